package user

import "mime/multipart"

// LoginForm mirrors the login screen's field schema.
type LoginForm struct {
	Email    string `form:"email" json:"email" binding:"required,email"`
	Password string `form:"password" json:"password" binding:"required,min=6"`
}

// SignUpForm mirrors the signup screen's field schema. Username only lives
// on the form; the stored record keeps name and email.
type SignUpForm struct {
	Name     string                `form:"name" binding:"required,min=2"`
	Username string                `form:"username" binding:"required,min=3,max=20,username"`
	Email    string                `form:"email" binding:"required,email"`
	Password string                `form:"password" binding:"required,min=8,has_upper,has_lower,has_digit"`
	Image    *multipart.FileHeader `form:"image"`
}

// FieldMessages are the inline messages shown next to each form field,
// keyed by "<field>.<rule>".
var FieldMessages = map[string]string{
	"email.required":     "Please enter a valid email address",
	"email.email":        "Please enter a valid email address",
	"password.required":  "Password is required",
	"name.required":      "Name must be at least 2 characters",
	"name.min":           "Name must be at least 2 characters",
	"username.required":  "Username must be at least 3 characters",
	"username.min":       "Username must be at least 3 characters",
	"username.max":       "Username cannot exceed 20 characters",
	"username.username":  "Username can only contain letters, numbers and underscores",
	"password.has_upper": "Password must contain at least one uppercase letter",
	"password.has_lower": "Password must contain at least one lowercase letter",
	"password.has_digit": "Password must contain at least one number",
}

// LoginFieldMessages override FieldMessages on the login screen.
var LoginFieldMessages = map[string]string{
	"email.required":    "Invalid email address",
	"email.email":       "Invalid email address",
	"password.required": "Password must be at least 6 characters",
	"password.min":      "Password must be at least 6 characters",
}

// SignUpFieldMessages override FieldMessages on the signup screen.
var SignUpFieldMessages = map[string]string{
	"password.min": "Password must be at least 8 characters",
}
