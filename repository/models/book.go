package models

// Book represents purchasable content in the catalog
type Book struct {
	ID          string `gorm:"column:book_id;primaryKey;type:varchar(50)"`
	Title       string `gorm:"column:title;type:varchar(200);not null"`
	Price       int64  `gorm:"column:price;not null"` // VND, whole units
	Currency    string `gorm:"column:currency;type:varchar(3);default:'VND'"`
	IsPublished bool   `gorm:"column:is_published;default:true"`

	// Relationships
	Orders      []Order      `gorm:"foreignKey:BookID"`
	Enrollments []Enrollment `gorm:"foreignKey:BookID"`
}
