package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestParseStatusFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Status
		wantErr bool
	}{
		{name: "valid uppercase", input: "SENT", want: StatusSent},
		{name: "valid lowercase with spaces", input: " queued ", want: StatusQueued},
		{name: "invalid", input: "canceled", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseStatusFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseStatusFromString() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseStatusFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseStatusFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseChannelFromString(t *testing.T) {
	t.Parallel()

	got, err := ParseChannelFromString(" telegram ")
	if err != nil {
		t.Fatalf("ParseChannelFromString() unexpected error = %v", err)
	}
	if got != ChannelTelegram {
		t.Fatalf("ParseChannelFromString() = %s, want %s", got, ChannelTelegram)
	}

	_, err = ParseChannelFromString("sms")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseChannelFromString() error = %v, want ErrValidation", err)
	}
}

func TestStatusIsTerminal(t *testing.T) {
	t.Parallel()

	terminal := map[Status]bool{
		StatusQueued:  false,
		StatusSending: false,
		StatusSent:    true,
		StatusFailed:  true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Fatalf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestNotificationJobValidate(t *testing.T) {
	t.Parallel()

	base := NotificationJob{
		InquiryID:   "i1",
		Channel:     ChannelEmail,
		Status:      StatusQueued,
		MaxAttempts: DefaultMaxAttempts,
	}

	tests := []struct {
		name    string
		mutate  func(*NotificationJob)
		wantErr bool
	}{
		{name: "valid job", mutate: func(n *NotificationJob) {}},
		{name: "missing inquiry", mutate: func(n *NotificationJob) { n.InquiryID = " " }, wantErr: true},
		{name: "invalid channel", mutate: func(n *NotificationJob) { n.Channel = Channel("SMS") }, wantErr: true},
		{name: "invalid status", mutate: func(n *NotificationJob) { n.Status = Status("PENDING") }, wantErr: true},
		{name: "zero max attempts", mutate: func(n *NotificationJob) { n.MaxAttempts = 0 }, wantErr: true},
		{name: "negative attempt count", mutate: func(n *NotificationJob) { n.AttemptCount = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			current := base
			tt.mutate(&current)

			err := current.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Validate() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestInquiryValidate(t *testing.T) {
	t.Parallel()

	base := Inquiry{
		Name:           "Ivan",
		Company:        "Acme",
		ProjectDetails: "Need a site",
		PhoneNumber:    "+79991234567",
		Email:          "ivan@acme.com",
		AgreedToTerms:  true,
	}

	tests := []struct {
		name      string
		mutate    func(*Inquiry)
		wantErr   bool
		wantInMsg string
	}{
		{name: "valid inquiry", mutate: func(i *Inquiry) {}},
		{name: "phone without plus", mutate: func(i *Inquiry) { i.PhoneNumber = "79991234567" }},
		{
			name:      "missing name",
			mutate:    func(i *Inquiry) { i.Name = "" },
			wantErr:   true,
			wantInMsg: "name is required",
		},
		{
			name:      "name too long",
			mutate:    func(i *Inquiry) { i.Name = strings.Repeat("я", 256) },
			wantErr:   true,
			wantInMsg: "name exceeds 255 characters",
		},
		{
			name:      "missing details",
			mutate:    func(i *Inquiry) { i.ProjectDetails = "" },
			wantErr:   true,
			wantInMsg: "projectDetails is required",
		},
		{
			name:      "phone with leading zero",
			mutate:    func(i *Inquiry) { i.PhoneNumber = "+0123" },
			wantErr:   true,
			wantInMsg: "phoneNumber",
		},
		{
			name:      "phone with letters",
			mutate:    func(i *Inquiry) { i.PhoneNumber = "+7999abc" },
			wantErr:   true,
			wantInMsg: "phoneNumber",
		},
		{
			name:      "invalid email",
			mutate:    func(i *Inquiry) { i.Email = "not-an-email" },
			wantErr:   true,
			wantInMsg: "email must be a valid email address",
		},
		{
			name:      "terms not accepted",
			mutate:    func(i *Inquiry) { i.AgreedToTerms = false },
			wantErr:   true,
			wantInMsg: "agreedToTerms must be accepted",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			current := base
			tt.mutate(&current)

			err := current.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Validate() error = %v, want ErrValidation", err)
				}
				if !strings.Contains(err.Error(), tt.wantInMsg) {
					t.Fatalf("Validate() error = %q, want it to contain %q", err.Error(), tt.wantInMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestInquiryValidateReportsFields(t *testing.T) {
	t.Parallel()

	inquiry := Inquiry{Company: "Acme", ProjectDetails: "x", PhoneNumber: "+79991234567", Email: "nope"}

	err := inquiry.Validate()
	var fields FieldErrors
	if !errors.As(err, &fields) {
		t.Fatalf("Validate() error = %v, want FieldErrors", err)
	}

	want := map[string]string{
		"name":          "name is required",
		"email":         "email must be a valid email address",
		"agreedToTerms": "agreedToTerms must be accepted",
	}
	if len(fields) != len(want) {
		t.Fatalf("fields = %v, want %d entries", fields, len(want))
	}
	for field, message := range want {
		if got := fields[field]; len(got) != 1 || got[0] != message {
			t.Fatalf("fields[%s] = %v, want [%s]", field, got, message)
		}
	}
	if got := err.Error(); got != "validation error: agreedToTerms must be accepted; email must be a valid email address; name is required" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestInquiryNormalize(t *testing.T) {
	t.Parallel()

	inquiry := Inquiry{
		Name:           "  Ivan ",
		Company:        "\tAcme",
		ProjectDetails: " Need a site\n",
		PhoneNumber:    " +79991234567 ",
		Email:          " ivan@acme.com",
	}
	inquiry.Normalize()

	if inquiry.Name != "Ivan" || inquiry.Company != "Acme" || inquiry.ProjectDetails != "Need a site" {
		t.Fatalf("Normalize() left whitespace: %+v", inquiry)
	}
	if inquiry.PhoneNumber != "+79991234567" || inquiry.Email != "ivan@acme.com" {
		t.Fatalf("Normalize() left whitespace: %+v", inquiry)
	}
}
