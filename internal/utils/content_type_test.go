package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectContentType(t *testing.T) {
	cases := map[string]string{
		"vm/backup-20260101-000000.tar.gz": "application/gzip",
		"a.tgz":                            "application/gzip",
		"main.py":                          "text/plain; charset=utf-8",
		"README.md":                        "text/plain; charset=utf-8",
		"data.json":                        "application/json",
		"blob":                             "application/octet-stream",
	}
	for key, want := range cases {
		assert.Equal(t, want, DetectContentType(key), key)
	}
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret(""))
	assert.Equal(t, "*****", MaskSecret("abc"))
	assert.Equal(t, "GOOG*****", MaskSecret("GOOG1EXAMPLEKEY"))
}
