package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// RoomCodeRegex matches the codes the study-room platform hands out.
	RoomCodeRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)

	UserIDRegex = regexp.MustCompile(`^[A-Za-z0-9_.@:-]{1,128}$`)
)

func ValidateRoomCode(code string) error {
	if code == "" {
		return fmt.Errorf("room code is required")
	}
	if !RoomCodeRegex.MatchString(code) {
		return fmt.Errorf("invalid room code format")
	}
	return nil
}

func ValidateUserID(id string) error {
	if id == "" {
		return fmt.Errorf("user id is required")
	}
	if !UserIDRegex.MatchString(id) {
		return fmt.Errorf("invalid user id format")
	}
	return nil
}

// ValidateUserName accepts any printable display name up to 128 bytes.
func ValidateUserName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("user name is required")
	}
	if len(name) > 128 {
		return fmt.Errorf("user name is too long (max 128 characters)")
	}
	return nil
}

// ValidateSignalURL checks a ws:// or wss:// signaling endpoint.
func ValidateSignalURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("URL scheme must be ws or wss")
	}
	if u.Host == "" {
		return fmt.Errorf("URL host is required")
	}
	return nil
}
