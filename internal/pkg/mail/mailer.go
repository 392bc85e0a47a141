package mail

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/gofiber/template/html/v2"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	templateSucceeded = "payment_succeeded"
	templateFailed    = "payment_failed"
)

// Receipt is the view model of the payment receipt mail.
type Receipt struct {
	Nickname   string
	OrderID    string
	OrderName  string
	Amount     int64
	ReceiptURL string
	ExpiresAt  time.Time
}

// FailureNotice is the view model of the failed payment mail.
type FailureNotice struct {
	Nickname  string
	OrderID   string
	OrderName string
	Code      string
	Message   string
}

// Mailer renders billing notifications and hands them to a Sender.
type Mailer struct {
	sender Sender
	engine *html.Engine
}

func NewMailer(sender Sender) (*Mailer, error) {
	sub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, err
	}
	engine := html.NewFileSystem(http.FS(sub), ".html")
	engine.AddFunc("won", formatWon)
	if err := engine.Load(); err != nil {
		return nil, fmt.Errorf("load mail templates: %w", err)
	}
	return &Mailer{sender: sender, engine: engine}, nil
}

func (m *Mailer) SendReceipt(to string, r Receipt) error {
	return m.send(to, fmt.Sprintf("[Payment] %s receipt", r.OrderName), templateSucceeded, r)
}

func (m *Mailer) SendFailureNotice(to string, n FailureNotice) error {
	return m.send(to, fmt.Sprintf("[Payment] %s could not be completed", n.OrderName), templateFailed, n)
}

func (m *Mailer) send(to, subject, name string, data interface{}) error {
	if to == "" {
		return fmt.Errorf("mail %s: empty recipient", name)
	}
	var buf bytes.Buffer
	if err := m.engine.Render(&buf, name, data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	return m.sender.Send(to, subject, buf.String())
}

// formatWon renders an amount with thousands separators.
func formatWon(amount int64) string {
	s := fmt.Sprintf("%d", amount)
	neg := false
	if amount < 0 {
		neg = true
		s = s[1:]
	}
	var out []byte
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out) + " KRW"
	}
	return string(out) + " KRW"
}
