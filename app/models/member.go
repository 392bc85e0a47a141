package models

// Member is the read-only view of a platform member used to address billing
// mail. Members are owned by the member service.
type Member struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Email    string `gorm:"type:varchar(200)" json:"email"`
	Nickname string `gorm:"type:varchar(100)" json:"nickname"`
}
