package notifier

import (
	"fmt"
	"html"
	"time"
)

func emailMessage(to, subject, text string) Message {
	return Message{
		Channel: ChannelEmail,
		To:      to,
		Subject: subject,
		Text:    text,
		HTML:    "<p>" + html.EscapeString(text) + "</p>",
	}
}

func RegistrationCode(to, username, code string, ttl time.Duration) Message {
	return emailMessage(to, "Confirm your registration",
		fmt.Sprintf("Hello %s, your confirmation code is %s. It expires in %s.", username, code, humanize(ttl)))
}

func PasswordResetCode(to, code string, ttl time.Duration) Message {
	return emailMessage(to, "Password reset",
		fmt.Sprintf("Your password reset code is %s. It expires in %s. If you did not ask for a reset, ignore this message.", code, humanize(ttl)))
}

func VerificationCode(to, code string, ttl time.Duration) Message {
	return emailMessage(to, "Verify your email",
		fmt.Sprintf("Your email verification code is %s. It expires in %s.", code, humanize(ttl)))
}

func TwoFactorCode(phone, code string) Message {
	return Message{
		Channel: ChannelSMS,
		To:      phone,
		Subject: "Login code",
		Text:    fmt.Sprintf("Your login code is %s", code),
	}
}

func humanize(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	case d >= time.Minute && d%time.Minute == 0:
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	default:
		return d.String()
	}
}
