package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestKindHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindNotFound, http.StatusNotFound},
		{KindConflict, http.StatusConflict},
		{KindTooManyRequests, http.StatusTooManyRequests},
		{KindDependency, http.StatusInternalServerError},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := tt.kind.HTTPStatus(); got != tt.want {
			t.Errorf("Kind(%d).HTTPStatus() = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestWriteError_Envelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, E(KindForbidden, "you are not authorized to access this resource"))

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	var env Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Success {
		t.Error("success should be false")
	}
	if env.StatusCode != http.StatusForbidden {
		t.Errorf("statusCode = %d, want 403", env.StatusCode)
	}
	if env.Message != "you are not authorized to access this resource" {
		t.Errorf("unexpected message: %q", env.Message)
	}
}

// TestWriteError_InternalHidesDetail 内部错误细节不得泄漏到响应
func TestWriteError_InternalHidesDetail(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, fmt.Errorf("dial tcp 10.0.0.3:27017: connection refused"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var env Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Message != "internal server error" {
		t.Errorf("internal detail leaked: %q", env.Message)
	}
}

// TestWriteError_DependencyKeepsStableMessage 依赖失败保留稳定消息但不泄漏底层原因
func TestWriteError_DependencyKeepsStableMessage(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, Wrap(KindDependency, "failed to send verification email", errors.New("smtp: 554 relay denied")))

	var env Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Message != "failed to send verification email" {
		t.Errorf("message = %q", env.Message)
	}
}

func TestWriteData_Envelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteData(w, http.StatusCreated, map[string]string{"id": "usr-1"}, "user registered successfully")

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	var env Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if !env.Success || env.StatusCode != http.StatusCreated {
		t.Errorf("envelope = %+v", env)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindInternal, "wrapped", cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}
	var apiErr *Error
	if !errors.As(error(err), &apiErr) || apiErr.Kind != KindInternal {
		t.Error("errors.As should recover the *Error")
	}
}
