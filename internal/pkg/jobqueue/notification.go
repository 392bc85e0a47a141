package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/repository"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/billing"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/mail"
)

// NotificationMailer is the part of mail.Mailer the handlers use.
type NotificationMailer interface {
	SendReceipt(to string, r mail.Receipt) error
	SendFailureNotice(to string, n mail.FailureNotice) error
}

// NotificationHandlers mails members about finished payments.
type NotificationHandlers struct {
	members repository.MemberRepository
	mailer  NotificationMailer
}

func NewNotificationHandlers(members repository.MemberRepository, mailer NotificationMailer) *NotificationHandlers {
	return &NotificationHandlers{members: members, mailer: mailer}
}

// Register installs the handlers on q.
func (h *NotificationHandlers) Register(q *Queue) {
	q.Register(JobTypePaymentSucceeded, h.PaymentSucceeded)
	q.Register(JobTypePaymentFailed, h.PaymentFailed)
}

func (h *NotificationHandlers) PaymentSucceeded(ctx context.Context, job *Job) error {
	payload, err := PaymentEventJobPayloadFromMap(job.Payload)
	if err != nil {
		return err
	}
	var ev billing.PaymentSucceeded
	if err := billing.DecodePayload(payload.Event(), &ev); err != nil {
		return fmt.Errorf("decode %s: %w", payload.DedupeKey, err)
	}

	email, nickname, ok, err := h.recipient(ctx, ev.MemberID)
	if err != nil || !ok {
		return err
	}
	return h.mailer.SendReceipt(email, mail.Receipt{
		Nickname:   nickname,
		OrderID:    ev.OrderID,
		OrderName:  ev.OrderName,
		Amount:     ev.Amount,
		ReceiptURL: ev.ReceiptURL,
		ExpiresAt:  ev.ExpiresAt,
	})
}

func (h *NotificationHandlers) PaymentFailed(ctx context.Context, job *Job) error {
	payload, err := PaymentEventJobPayloadFromMap(job.Payload)
	if err != nil {
		return err
	}
	var ev billing.PaymentFailed
	if err := billing.DecodePayload(payload.Event(), &ev); err != nil {
		return fmt.Errorf("decode %s: %w", payload.DedupeKey, err)
	}

	email, nickname, ok, err := h.recipient(ctx, ev.MemberID)
	if err != nil || !ok {
		return err
	}
	return h.mailer.SendFailureNotice(email, mail.FailureNotice{
		Nickname:  nickname,
		OrderID:   ev.OrderID,
		OrderName: ev.OrderName,
		Code:      ev.Code,
		Message:   ev.Message,
	})
}

// recipient reports ok=false for members that cannot be mailed; those jobs
// complete without retry.
func (h *NotificationHandlers) recipient(ctx context.Context, memberID uint) (string, string, bool, error) {
	member, err := h.members.GetByID(ctx, memberID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("[JobQueue] member %d not found, skipping mail", memberID)
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, err
	}
	if member.Email == "" {
		log.Warnf("[JobQueue] member %d has no email, skipping mail", memberID)
		return "", "", false, nil
	}
	return member.Email, member.Nickname, true, nil
}
