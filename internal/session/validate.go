package session

import (
	"net/mail"
	"strings"

	"github.com/hitoshi/volunteerhub/internal/model"
)

const (
	minPasswordLength  = 8
	passwordSpecialSet = "!@#$%^&*"
)

// SignUpInput はサインアップ画面の入力。
type SignUpInput struct {
	FullName        string
	Email           string
	Password        string
	ConfirmPassword string
}

// PasswordRequirements はパスワード要件ごとの充足状況。
// 入力中の要件チェックリスト表示に使用する。
type PasswordRequirements struct {
	MinLength bool `json:"min_length"`
	Uppercase bool `json:"uppercase"`
	Number    bool `json:"number"`
	Special   bool `json:"special"`
}

// Satisfied はすべての要件を満たしているかどうかを返す。
func (r PasswordRequirements) Satisfied() bool {
	return r.MinLength && r.Uppercase && r.Number && r.Special
}

// CheckPassword はパスワードの要件充足状況を返す。
func CheckPassword(password string) PasswordRequirements {
	reqs := PasswordRequirements{MinLength: len(password) >= minPasswordLength}
	for _, char := range password {
		switch {
		case char >= 'A' && char <= 'Z':
			reqs.Uppercase = true
		case char >= '0' && char <= '9':
			reqs.Number = true
		case strings.ContainsRune(passwordSpecialSet, char):
			reqs.Special = true
		}
	}
	return reqs
}

// validateSignUp はサインアップ入力を検証する。ネットワーク呼び出し前に実行する。
func validateSignUp(in SignUpInput) error {
	var missing []string
	if strings.TrimSpace(in.FullName) == "" {
		missing = append(missing, "full_name")
	}
	if strings.TrimSpace(in.Email) == "" {
		missing = append(missing, "email")
	}
	if in.Password == "" {
		missing = append(missing, "password")
	}
	if in.ConfirmPassword == "" {
		missing = append(missing, "confirm_password")
	}
	if len(missing) > 0 {
		return model.NewMissingFieldsError(missing...)
	}

	if !validEmail(in.Email) {
		return model.NewInvalidEmailError()
	}
	if in.Password != in.ConfirmPassword {
		return model.NewPasswordMismatchError()
	}
	if !CheckPassword(in.Password).Satisfied() {
		return model.NewWeakPasswordError()
	}
	return nil
}

// validateSignIn はログイン入力を検証する。
func validateSignIn(email, password string) error {
	var missing []string
	if strings.TrimSpace(email) == "" {
		missing = append(missing, "email")
	}
	if password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return model.NewMissingFieldsError(missing...)
	}
	return nil
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return false
	}
	// "Name <a@b>" 形式は受け付けない
	return addr.Address == strings.TrimSpace(email)
}
