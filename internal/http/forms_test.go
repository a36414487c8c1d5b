package http

import "testing"

func TestPasswordProblem(t *testing.T) {
	cases := []struct {
		password string
		want     string
	}{
		{"Ab1!", "Password must be at least 8 characters long."},
		{"abcdefg1!", "Password must contain at least one uppercase letter."},
		{"ABCDEFG1!", "Password must contain at least one lowercase letter."},
		{"Abcdefgh!", "Password must contain at least one number."},
		{"Abcdefgh1", "Password must contain at least one special character (!@#$%^&*)."},
		{"Abcdefg1!", ""},
	}
	for _, tc := range cases {
		if got := passwordProblem(tc.password); got != tc.want {
			t.Fatalf("passwordProblem(%q) = %q, want %q", tc.password, got, tc.want)
		}
	}
}

func TestValidateLoginForm(t *testing.T) {
	if errs := validateForm(loginForm{Email: "a@b.co", Password: "x"}); errs != nil {
		t.Fatalf("expected valid form, got %v", errs)
	}
	errs := validateForm(loginForm{})
	if errs["email"] != "Email is required." || errs["password"] != "Password is required." {
		t.Fatalf("unexpected errors %v", errs)
	}
	errs = validateForm(loginForm{Email: "a@b", Password: "x"})
	if errs["email"] != "Invalid email format." {
		t.Fatalf("unexpected errors %v", errs)
	}
}

func TestValidateSignupForm(t *testing.T) {
	errs := validateForm(signupForm{Name: "Ana", Email: "ana@example.com", Password: "Passw0rd!", Role: "Guest"})
	if errs["role"] == "" {
		t.Fatalf("expected role error, got %v", errs)
	}
	errs = validateForm(signupForm{Name: "Ana", Email: "ana@example.com", Password: "Passw0rd!", Role: "TEACHER"})
	if errs != nil {
		t.Fatalf("expected valid form, got %v", errs)
	}
}
