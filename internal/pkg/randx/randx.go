/*
Package randx provides functions for generating cryptographically secure random values and unique identifiers.

It is used to mint user tokens and connection ids, and to pick the adjective+noun display
names and display colors assigned to new identities.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the total number of characters in the Base62 character set (62).
	Base62Len = int64(len(Base62Chars))

	// UserTokenPrefix is the prefix of every server-issued user token.
	UserTokenPrefix = "user_"

	// UserTokenRawLength is the length of the Base62 part of a user token (128 bits of UUID entropy).
	UserTokenRawLength = 22
)

var adjectives = []string{
	"Angry", "Happy", "Sleepy", "Bouncy", "Grumpy", "Fluffy", "Sparkly", "Dizzy", "Sneaky", "Giggly",
	"Wobbly", "Fuzzy", "Chunky", "Sassy", "Cranky", "Bubbly", "Wiggly", "Quirky", "Nerdy", "Silly",
	"Clumsy", "Mighty", "Tiny", "Giant", "Flying", "Dancing", "Singing", "Jumping", "Running", "Sleeping",
	"Confused", "Excited", "Brave", "Shy", "Wild", "Calm", "Crazy", "Lazy", "Hyper", "Chill",
	"Magical", "Mystical", "Epic", "Legendary", "Cosmic", "Galactic", "Quantum", "Atomic", "Electric", "Turbo",
}

var nouns = []string{
	"Cat", "Dog", "Panda", "Koala", "Tiger", "Lion", "Bear", "Wolf", "Fox", "Rabbit",
	"Dragon", "Phoenix", "Unicorn", "Griffin", "Pegasus", "Hydra", "Kraken", "Yeti", "Goblin", "Troll",
	"Ninja", "Pirate", "Viking", "Knight", "Samurai", "Wizard", "Witch", "Mage", "Warrior", "Archer",
	"Potato", "Banana", "Apple", "Orange", "Mango", "Avocado", "Tomato", "Carrot", "Broccoli", "Pizza",
	"Taco", "Burger", "Sushi", "Noodle", "Cookie", "Donut", "Cake", "Pie", "Waffle", "Pancake",
	"Robot", "Cyborg", "Android", "Machine", "Computer", "Laptop", "Phone", "Tablet", "Console", "Gadget",
}

// intn returns a uniform random integer in [0, n) from crypto/rand.
func intn(n int) (int, error) {
	num, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(num.Int64()), nil
}

// UserToken generates a new opaque user token: UserTokenPrefix followed by a UUIDv4
// re-encoded in Base62 and left-padded to UserTokenRawLength.
func UserToken() string {
	id := uuid.New()
	n := new(big.Int).SetBytes(id[:])

	raw := make([]byte, 0, UserTokenRawLength)
	base := big.NewInt(Base62Len)
	mod := new(big.Int)
	for n.Sign() > 0 {
		n.DivMod(n, base, mod)
		raw = append(raw, Base62Chars[mod.Int64()])
	}
	for len(raw) < UserTokenRawLength {
		raw = append(raw, Base62Chars[0])
	}

	return UserTokenPrefix + string(raw)
}

// IsValidUserToken checks if the given string has the shape of a server-issued user token.
func IsValidUserToken(token string) bool {
	if !strings.HasPrefix(token, UserTokenPrefix) {
		return false
	}

	rawID := token[len(UserTokenPrefix):]
	if len(rawID) != UserTokenRawLength {
		return false
	}

	for _, char := range rawID {
		if !strings.ContainsRune(Base62Chars, char) {
			return false
		}
	}

	return true
}

// ConnectionID generates a standard UUID v4 string identifying one physical connection.
func ConnectionID() string {
	return uuid.New().String()
}

// DisplayName picks a random "<Adjective> <Noun>" name. Uniqueness is not tracked.
func DisplayName() (string, error) {
	a, err := intn(len(adjectives))
	if err != nil {
		return "", fmt.Errorf("failed to generate random number for display name: %v", err)
	}
	n, err := intn(len(nouns))
	if err != nil {
		return "", fmt.Errorf("failed to generate random number for display name: %v", err)
	}

	return adjectives[a] + " " + nouns[n], nil
}

// DisplayColor picks a random RGB color formatted as "#RRGGBB".
func DisplayColor() (string, error) {
	rgb, err := intn(1 << 24)
	if err != nil {
		return "", fmt.Errorf("failed to generate random number for display color: %v", err)
	}

	return fmt.Sprintf("#%06X", rgb), nil
}
