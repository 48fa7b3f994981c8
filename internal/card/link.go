package card

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// LinkScheme is the URL scheme other layers use to address cards.
const LinkScheme = "topnote"

// Link formats the external address of a card: topnote://card/<uuid>.
func Link(id uuid.UUID) string {
	return fmt.Sprintf("%s://card/%s", LinkScheme, id)
}

// ParseLink extracts the card id from a topnote://card/<uuid> link.
func ParseLink(link string) (uuid.UUID, error) {
	u, err := url.Parse(link)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid card link %q: %w", link, err)
	}
	if u.Scheme != LinkScheme || u.Host != "card" {
		return uuid.Nil, fmt.Errorf("invalid card link %q: want %s://card/<id>", link, LinkScheme)
	}
	id, err := uuid.Parse(strings.Trim(u.Path, "/"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid card id in link %q: %w", link, err)
	}
	return id, nil
}
