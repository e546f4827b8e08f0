package mediacache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mediacache"
)

func TestNormalizeKey_StripsNonWhitelistedParams(t *testing.T) {
	a := mediacache.NormalizeKey("https://cdn.example.com/photos/1.jpg?token=abc&t=123")
	b := mediacache.NormalizeKey("https://cdn.example.com/photos/1.jpg?signature=zzz")
	c := mediacache.NormalizeKey("https://cdn.example.com/photos/1.jpg")

	assert.Equal(t, a, b, "URLs differing only in non-whitelisted params must share a key")
	assert.Equal(t, a, c)
	assert.Equal(t, "https://cdn.example.com/photos/1.jpg", a)
}

func TestNormalizeKey_KeepsSizingParams(t *testing.T) {
	small := mediacache.NormalizeKey("https://cdn.example.com/photos/1.jpg?w=100&h=100")
	large := mediacache.NormalizeKey("https://cdn.example.com/photos/1.jpg?w=1200&h=800")

	assert.NotEqual(t, small, large, "sizing variants are distinct cache slots")
}

func TestNormalizeKey_CanonicalParamOrder(t *testing.T) {
	a := mediacache.NormalizeKey("https://cdn.example.com/p.jpg?h=10&w=20")
	b := mediacache.NormalizeKey("https://cdn.example.com/p.jpg?w=20&h=10")

	assert.Equal(t, a, b, "parameter order must not affect the key")
}

func TestNormalizeKey_Idempotent(t *testing.T) {
	inputs := []string{
		"https://cdn.example.com/photos/1.jpg?w=100&token=abc",
		"https://cdn.example.com/photos/1.jpg",
		"http://example.com/a/b/c?quality=80&x=1&y=2",
		"not a url at all",
		"",
	}
	for _, in := range inputs {
		once := mediacache.NormalizeKey(in)
		twice := mediacache.NormalizeKey(once)
		assert.Equal(t, once, twice, "NormalizeKey must be idempotent for %q", in)
	}
}

func TestNormalizeKey_FailsOpenOnUnparseableURL(t *testing.T) {
	raw := "http://[::1]:namedport/img.jpg" // invalid port, url.Parse fails
	assert.Equal(t, raw, mediacache.NormalizeKey(raw))

	relative := "photos/1.jpg" // no origin
	assert.Equal(t, relative, mediacache.NormalizeKey(relative))
}

func TestImageKey_Prefix(t *testing.T) {
	key := mediacache.ImageKey("https://cdn.example.com/photos/1.jpg?token=x")
	assert.Equal(t, "img-https://cdn.example.com/photos/1.jpg", key)
}
