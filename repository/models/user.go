package models

// User represents a platform account that can purchase books
type User struct {
	ID       string `gorm:"column:user_id;primaryKey;type:varchar(50)"`
	Email    string `gorm:"column:email;type:varchar(200);not null;uniqueIndex"`
	FullName string `gorm:"column:full_name;type:varchar(100)"`
	IsStaff  bool   `gorm:"column:is_staff;default:false"`

	// Relationships
	Orders      []Order      `gorm:"foreignKey:UserID"`
	Enrollments []Enrollment `gorm:"foreignKey:UserID"`
}
