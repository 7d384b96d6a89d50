package session

import "strings"

// BaseURL is the messaging service the automation layer drives.
const BaseURL = "https://ok.ru"

// NormalizeTarget converts a lead identifier into a navigable profile URL.
// Accepted forms: a full profile URL, a bare numeric profile id, or a handle
// (with or without a leading @).
func NormalizeTarget(identifier string) string {
	id := strings.TrimSpace(identifier)
	id = strings.TrimPrefix(id, "@")
	id = strings.TrimPrefix(id, "http://")
	id = strings.TrimPrefix(id, "https://")

	if i := strings.Index(id, "ok.ru/profile/"); i >= 0 {
		profileID := id[i+len("ok.ru/profile/"):]
		if j := strings.IndexByte(profileID, '/'); j >= 0 {
			profileID = profileID[:j]
		}
		return BaseURL + "/profile/" + profileID
	}
	if isDigits(id) {
		return BaseURL + "/profile/" + id
	}
	return BaseURL + "/" + id
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
