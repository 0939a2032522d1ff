package model

import "time"

// User is the account returned by the auth endpoints
type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Username   string    `json:"username"`
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName"`
	Avatar     string    `json:"avatar,omitempty"`
	Bio        string    `json:"bio,omitempty"`
	Location   string    `json:"location,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	IsVerified bool      `json:"isVerified"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// DisplayName returns the best name to show for the user
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.FirstName != "" || u.LastName != "" {
		if u.LastName == "" {
			return u.FirstName
		}
		if u.FirstName == "" {
			return u.LastName
		}
		return u.FirstName + " " + u.LastName
	}
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}

// LoginCredentials is the body of POST /auth/login
type LoginCredentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterData is the body of POST /auth/register
type RegisterData struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8,password"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
	Username        string `json:"username" validate:"required,min=3,max=20,username"`
	FirstName       string `json:"firstName" validate:"required"`
	LastName        string `json:"lastName" validate:"required"`
}

// AuthResponse is returned by login, register and refresh
type AuthResponse struct {
	User         *User  `json:"user,omitempty"`
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// ProfileUpdate holds the fields accepted by PUT /auth/profile.
// Nil fields are left untouched by the server.
type ProfileUpdate struct {
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	Username  *string `json:"username,omitempty"`
	Bio       *string `json:"bio,omitempty"`
	Location  *string `json:"location,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Avatar    *string `json:"avatar,omitempty"`
}

// Apply copies the set fields onto u
func (p ProfileUpdate) Apply(u *User) {
	if u == nil {
		return
	}
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&u.FirstName, p.FirstName)
	set(&u.LastName, p.LastName)
	set(&u.Username, p.Username)
	set(&u.Bio, p.Bio)
	set(&u.Location, p.Location)
	set(&u.Phone, p.Phone)
	set(&u.Avatar, p.Avatar)
}

// PasswordChange is the body of PUT /auth/change-password
type PasswordChange struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,password"`
}

// PasswordResetRequest is the body of POST /auth/forgot-password
type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// PasswordReset is the body of POST /auth/reset-password. Token comes from
// the reset email.
type PasswordReset struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8,password"`
}

// EmailVerification is the body of POST /auth/verify-email
type EmailVerification struct {
	Token string `json:"token" validate:"required"`
}
