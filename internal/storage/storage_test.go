package storage

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type disabledConfig struct{}

func (disabledConfig) GetMinIOEndpoint() string        { return "" }
func (disabledConfig) GetMinIOAccessKey() string       { return "" }
func (disabledConfig) GetMinIOSecretKey() string       { return "" }
func (disabledConfig) GetMinIOUseSSL() bool            { return false }
func (disabledConfig) GetMinioBucketContracts() string { return "contracts" }
func (disabledConfig) IsMinIOEnabled() bool            { return false }

func TestObjectKey(t *testing.T) {
	key := ObjectKey("/loc-1/quotes/", "contract.pdf")
	assert.Regexp(t, regexp.MustCompile(`^loc-1/quotes/contract_[0-9a-f]{8}\.pdf$`), key)

	assert.NotEqual(t, key, ObjectKey("loc-1/quotes", "contract.pdf"))
}

func TestObjectKeyStripsDirectories(t *testing.T) {
	key := ObjectKey("", `..\..\etc/passwd`)
	assert.Regexp(t, regexp.MustCompile(`^passwd_[0-9a-f]{8}$`), key)
}

func TestNewMinIOServiceDisabled(t *testing.T) {
	svc, err := NewMinIOService(disabledConfig{})
	require.NoError(t, err)
	assert.Nil(t, svc)
}
