// Package mail 邮件发送
//
// 注册/重置流程把发信当作同步可失败调用：注册时发信失败会触发
// 补偿动作（删除刚创建的用户），所以这里的错误必须如实上抛。
package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"taskhub/internal/config"
)

// Message 一封待发送的邮件
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer 邮件发送接口，测试中注入失败实现
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPMailer 通过 SMTP 中继（Mailtrap 等）发送纯文本邮件
type SMTPMailer struct {
	cfg config.MailConfig
}

// NewSMTPMailer 创建 SMTP 发送器
func NewSMTPMailer(cfg config.MailConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// Send 同步发送，失败返回错误
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if msg.To == "" || msg.Subject == "" || msg.Body == "" {
		return fmt.Errorf("mail: recipient, subject and body are required")
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.Body)

	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{msg.To}, []byte(b.String())); err != nil {
		return fmt.Errorf("mail: send to %s: %w", msg.To, err)
	}
	return nil
}

// ============================================================================
// 邮件内容
// ============================================================================

// VerificationMessage 邮箱验证邮件
func VerificationMessage(to, username, verifyURL string) Message {
	body := fmt.Sprintf(
		"Hi %s,\n\n"+
			"Welcome to Taskhub. Please verify your email address by opening the link below:\n\n"+
			"%s\n\n"+
			"The link expires in 20 minutes. If you did not create an account, you can safely ignore this email.\n",
		username, verifyURL)
	return Message{To: to, Subject: "Verify your email", Body: body}
}

// PasswordResetMessage 密码重置邮件
func PasswordResetMessage(to, username, resetURL string) Message {
	body := fmt.Sprintf(
		"Hi %s,\n\n"+
			"You requested a password reset. Open the link below to choose a new password:\n\n"+
			"%s\n\n"+
			"The link expires in 1 hour. If you did not request this, you can safely ignore this email.\n",
		username, resetURL)
	return Message{To: to, Subject: "Password Reset", Body: body}
}
