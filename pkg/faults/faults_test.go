package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_WrappedAndUnclassified(t *testing.T) {
	base := New(KindProviderTransient, "calendar.list_events", errors.New("502"))
	wrapped := fmt.Errorf("meetings step: %w", base)

	assert.Equal(t, KindProviderTransient, KindOf(base))
	assert.Equal(t, KindProviderTransient, KindOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, KindInternal, KindOf(nil))
}

func TestIs(t *testing.T) {
	err := New(KindCredentialInvalidated, "credentials.refresh", nil)

	assert.True(t, Is(err, KindCredentialInvalidated))
	assert.False(t, Is(err, KindCredentialMissing))
	assert.False(t, Is(errors.New("plain"), KindInternal))
}

func TestTransient(t *testing.T) {
	transient := []Kind{KindProviderTransient, KindCredentialRefreshFailed, KindStoreUnavailable}
	for _, k := range transient {
		assert.True(t, Transient(New(k, "op", nil)), k.String())
	}

	terminal := []Kind{
		KindCredentialMissing, KindCredentialInvalidated,
		KindProviderPermission, KindProviderNotFound,
		KindParseFailure, KindInternal,
	}
	for _, k := range terminal {
		assert.False(t, Transient(New(k, "op", nil)), k.String())
	}
}

func TestErrorFormatting(t *testing.T) {
	withCause := New(KindProviderPermission, "issues.search", errors.New("403 forbidden"))
	assert.Equal(t, "issues.search: provider_permission: 403 forbidden", withCause.Error())

	bare := New(KindCredentialMissing, "credentials.get", nil)
	assert.Equal(t, "credentials.get: credential_missing", bare.Error())

	assert.Equal(t, errors.Unwrap(withCause).Error(), "403 forbidden")
}

func TestKindString_Unknown(t *testing.T) {
	assert.Equal(t, "kind(99)", Kind(99).String())
}
