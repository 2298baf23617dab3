package protocol

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

var codeAdjectives = []string{
	"brave", "bright", "calm", "cheery", "cozy", "fluffy", "gentle", "golden", "happy", "jolly",
	"merry", "plucky", "shiny", "silent", "silver", "sleepy", "swift", "tiny", "bouncy", "crimson",
}

var codeAnimals = []string{
	"beaver", "bunny", "canary", "dolphin", "ferret", "flamingo", "fox", "hedgehog", "koala", "narwhal",
	"otter", "panda", "parrot", "pelican", "penguin", "raccoon", "robin", "seahorse", "toucan", "whale",
}

var codeThings = []string{
	"biscuit", "comet", "cupcake", "dumpling", "ember", "lantern", "maple", "marble", "meadow", "muffin",
	"nebula", "orbit", "pancake", "pebble", "pixel", "ramen", "rocket", "sunbeam", "waffle", "willow",
}

// NewMeetingCode returns a random, memorable meeting code such as
// "HAPPY-OTTER-WAFFLE", already normalized.
func NewMeetingCode() (string, error) {
	words := make([]string, 0, 3)
	for _, list := range [][]string{codeAdjectives, codeAnimals, codeThings} {
		i, err := randomIndex(len(list))
		if err != nil {
			return "", fmt.Errorf("generate meeting code: %w", err)
		}
		words = append(words, list[i])
	}
	return NormalizeMeetingCode(strings.Join(words, "-")), nil
}

// randomIndex returns a cryptographically secure random index below n.
func randomIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
