package utils_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/editguard/editguard/pkg/utils"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func TestBrowserFamily(t *testing.T) {
	assert.Equal(t, "Chrome", utils.BrowserFamily(chromeUA))
	assert.Equal(t, "unknown", utils.BrowserFamily(""))
	assert.Equal(t, "unknown", utils.BrowserFamily("definitely-not-a-browser"))
}

func TestParseUserAgent(t *testing.T) {
	info := utils.ParseUserAgent(chromeUA)

	assert.Contains(t, info.Browser, "Chrome")
	assert.Contains(t, info.OS, "Windows")
	assert.Equal(t, "Computer", info.Device)
}
