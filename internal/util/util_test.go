package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseUserAgent(t *testing.T) {
	cases := []struct {
		ua, device, browser, os string
	}{
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36", "desktop", "chrome", "windows"},
		{"Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 Chrome/120.0 Safari/537.36 Edg/120.0", "desktop", "edge", "windows"},
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Version/17.0 Mobile/15E148 Safari/604.1", "mobile", "safari", "ios"},
		{"Mozilla/5.0 (Linux; Android 14; SM-X700) AppleWebKit/537.36 Chrome/120.0 Safari/537.36", "tablet", "chrome", "android"},
		{"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0", "desktop", "firefox", "linux"},
		{"", "unknown", "unknown", "unknown"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.device, ParseDeviceType(tc.ua), tc.ua)
		require.Equal(t, tc.browser, ParseBrowser(tc.ua), tc.ua)
		require.Equal(t, tc.os, ParseOS(tc.ua), tc.ua)
	}
}

func TestContainsAnyFold(t *testing.T) {
	match, ok := ContainsAnyFold("Mozilla/5.0 (compatible; Googlebot/2.1)", []string{" ", "googlebot"})
	require.True(t, ok)
	require.Equal(t, "googlebot", match)

	_, ok = ContainsAnyFold("", []string{"bot"})
	require.False(t, ok)
}

func TestClassifyIP(t *testing.T) {
	require.Equal(t, IPLocal, ClassifyIP("10.1.2.3"))
	require.Equal(t, IPLocal, ClassifyIP("::ffff:127.0.0.1"))
	require.Equal(t, IPLocal, ClassifyIP("0.0.0.0"))
	require.Equal(t, IPPublic, ClassifyIP("8.8.8.8"))
	require.Equal(t, IPPublic, ClassifyIP("2001:4860:4860::8888"))
	require.Equal(t, IPInvalid, ClassifyIP("999.1.1.1"))
	require.Equal(t, "1.2.3.4", NormalizeIP(" ::ffff:1.2.3.4 "))
}
