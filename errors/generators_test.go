package errors

import (
	"reflect"
	"testing"
)

func TestNewResourceNotFoundError(t *testing.T) {
	type args struct {
		message string
		details Details
	}
	tests := []struct {
		name string
		args args
		want Error
	}{
		{
			name: "without details",
			args: args{
				message: "hello world",
				details: nil,
			},
			want: Error{
				Code:    ErrNotFound,
				Kind:    KindResourceNotFound,
				Message: "hello world",
			},
		},
		{
			name: "with details",
			args: args{
				message: "hello world",
				details: Details{"hello": "world"},
			},
			want: Error{
				Code:    ErrNotFound,
				Kind:    KindResourceNotFound,
				Message: "hello world",
				Details: Details{"hello": "world"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err, ok := Cast(NewResourceNotFoundError(tt.args.message, tt.args.details)); !ok || !reflect.DeepEqual(err, tt.want) {
				t.Errorf("NewResourceNotFoundError() error = %v, ok = %v, want %v, ok = %v", err, ok, tt.want, true)
			}
		})
	}
}

func TestNewForbiddenError(t *testing.T) {
	want := Error{
		Code:    ErrForbidden,
		Kind:    KindUserDead,
		Message: "user is dead",
		Details: Details{"user_id": "xyz"},
	}
	if err, ok := Cast(NewForbiddenError(KindUserDead, "user is dead", Details{"user_id": "xyz"})); !ok || !reflect.DeepEqual(err, want) {
		t.Errorf("NewForbiddenError() error = %v, ok = %v, want %v, ok = %v", err, ok, want, true)
	}
}

func TestNewConflictError(t *testing.T) {
	want := Error{
		Code:    ErrConflict,
		Kind:    KindShotAlreadyChecked,
		Message: "shot already checked",
	}
	if err, ok := Cast(NewConflictError(KindShotAlreadyChecked, "shot already checked", nil)); !ok || !reflect.DeepEqual(err, want) {
		t.Errorf("NewConflictError() error = %v, ok = %v, want %v, ok = %v", err, ok, want, true)
	}
}

func TestNewValidationError(t *testing.T) {
	want := Error{
		Code:    ErrValidation,
		Kind:    KindUnknownItemType,
		Message: "unknown item type",
	}
	if err, ok := Cast(NewValidationError(KindUnknownItemType, "unknown item type", nil)); !ok || !reflect.DeepEqual(err, want) {
		t.Errorf("NewValidationError() error = %v, ok = %v, want %v, ok = %v", err, ok, want, true)
	}
}
