package auth

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	hashCost = bcrypt.MinCost
	m.Run()
}

func TestGenerateKey(t *testing.T) {
	tests := []struct {
		name        string
		keyName     string
		expectError bool
		errorMsg    string
	}{
		{name: "valid_name", keyName: "ci pipeline"},
		{name: "unicode_name", keyName: "clé 🔑"},
		{name: "max_length_name", keyName: strings.Repeat("a", MaxKeyNameLength)},
		{name: "empty_name", keyName: "", expectError: true, errorMsg: "key name cannot be empty"},
		{name: "too_long_name", keyName: strings.Repeat("a", MaxKeyNameLength+1), expectError: true, errorMsg: "at most 255"},
		{name: "control_chars", keyName: "bad\x00name", expectError: true, errorMsg: "invalid characters"},
		{name: "rtl_override", keyName: "bad\u202ename", expectError: true, errorMsg: "invalid characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generated, err := GenerateKey(tt.keyName)
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				assert.Nil(t, generated)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.keyName, generated.Name)
			assert.True(t, IsValidKeyFormat(generated.Key), generated.Key)
			assert.True(t, IsHash(generated.Hash))
			assert.True(t, CompareKey(generated.Key, generated.Hash))
			assert.Equal(t, generated.Key[:11]+"...", generated.DisplayPrefix)
		})
	}
}

func TestGenerateKey_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		generated, err := GenerateKey("k")
		require.NoError(t, err)
		assert.False(t, seen[generated.Key], "duplicate key generated")
		seen[generated.Key] = true
	}
}

func TestHashAndCompareKey(t *testing.T) {
	_, err := HashKey("")
	assert.Error(t, err)

	long := "pp_" + strings.Repeat("x", 100)
	hash, err := HashKey(long)
	require.NoError(t, err)
	assert.True(t, CompareKey(long, hash))
	assert.False(t, CompareKey(long+"y", hash))
	assert.False(t, CompareKey("", hash))
	assert.False(t, CompareKey(long, ""))
}

func TestIsValidKeyFormat(t *testing.T) {
	valid := "pp_" + strings.Repeat("a", KeyLength)
	assert.True(t, IsValidKeyFormat(valid))
	assert.False(t, IsValidKeyFormat(""))
	assert.False(t, IsValidKeyFormat("sk_"+strings.Repeat("a", KeyLength)))
	assert.False(t, IsValidKeyFormat(valid+"a"))
	assert.False(t, IsValidKeyFormat("pp_"+strings.Repeat("A", KeyLength)))
	assert.False(t, IsValidKeyFormat("pp_"+strings.Repeat("1", KeyLength)))

	assert.Equal(t, "invalid_key", DisplayPrefix("secret"))
	assert.Equal(t, "pp_aaaaaaaa...", DisplayPrefix(valid))
}

func TestKeyring(t *testing.T) {
	generated, err := GenerateKey("hashed")
	require.NoError(t, err)

	ring := NewKeyring([]string{"plain-secret", "  ", generated.Hash})
	assert.True(t, ring.Enabled())

	assert.True(t, ring.Validate("plain-secret"))
	assert.True(t, ring.Validate(generated.Key))
	assert.True(t, ring.Validate(generated.Key), "cached verification")
	assert.False(t, ring.Validate(generated.Hash), "the hash itself is not a key")
	assert.False(t, ring.Validate("plain-secre"))
	assert.False(t, ring.Validate(""))
}

func TestKeyring_Empty(t *testing.T) {
	ring := NewKeyring(nil)
	assert.False(t, ring.Enabled())
	assert.False(t, ring.Validate("anything"))

	assert.False(t, NewKeyring([]string{"", " "}).Enabled())
}

func TestKeyring_ConcurrentValidate(t *testing.T) {
	generated, err := GenerateKey("concurrent")
	require.NoError(t, err)
	ring := NewKeyring([]string{generated.Hash})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, ring.Validate(generated.Key))
		}()
	}
	wg.Wait()
}
