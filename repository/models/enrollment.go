package models

import "time"

// Enrollment grants a user access to a book. At most one row exists per
// (user, book) pair; reactivation reuses the row instead of inserting.
type Enrollment struct {
	ID          uint       `gorm:"column:enrollment_id;primaryKey;autoIncrement"`
	UserID      string     `gorm:"column:user_id;type:varchar(50);not null;uniqueIndex:ux_enrollment_user_book,priority:1"`
	User        *User      `gorm:"foreignKey:UserID"`
	BookID      string     `gorm:"column:book_id;type:varchar(50);not null;uniqueIndex:ux_enrollment_user_book,priority:2"`
	Book        *Book      `gorm:"foreignKey:BookID"`
	ActiveFrom  time.Time  `gorm:"column:active_from;not null"`
	ActiveUntil *time.Time `gorm:"column:active_until"`
	IsActive    bool       `gorm:"column:is_active;index;default:true"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// AccessibleAt evaluates access at read time. Expiry is a query-time
// predicate, not a stored flag: wall-clock time passes with no write.
func (e *Enrollment) AccessibleAt(now time.Time) bool {
	if !e.IsActive {
		return false
	}
	if e.ActiveUntil == nil {
		return true
	}
	return now.Before(*e.ActiveUntil)
}
