package relay

import "regexp"

// Game IDs are 5 to 30 characters of alphanumerics plus "-", "." and
// "/". Anything else is rejected before a hub is created.
var gameIDPattern = regexp.MustCompile(`^[A-Za-z0-9./-]{5,30}$`)

// ValidGameID reports whether id names a joinable game.
func ValidGameID(id string) bool {
	return gameIDPattern.MatchString(id)
}
