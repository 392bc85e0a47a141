package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/models"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/database"
)

type memberRepository struct {
	db *gorm.DB
}

// NewMemberRepository creates a new member repository instance
func NewMemberRepository(db *gorm.DB) MemberRepository {
	return &memberRepository{db: db}
}

func (r *memberRepository) GetByID(ctx context.Context, id uint) (*models.Member, error) {
	var member models.Member
	if err := database.Conn(ctx, r.db).First(&member, id).Error; err != nil {
		return nil, err
	}
	return &member, nil
}
