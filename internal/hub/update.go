package hub

import (
	"fmt"
	"strings"

	"github.com/Valrob28/traderbrok/internal/domain"
)

// Channel is a per-market data stream.
type Channel string

const (
	ChannelPrice  Channel = "price"
	ChannelBook   Channel = "book"
	ChannelTrades Channel = "trades"
)

// Channels lists every valid channel.
var Channels = []Channel{ChannelPrice, ChannelBook, ChannelTrades}

// ParseChannel validates a channel name.
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(strings.ToLower(strings.TrimSpace(s))); c {
	case ChannelPrice, ChannelBook, ChannelTrades:
		return c, nil
	}
	return "", fmt.Errorf("hub: channel %q: %w", s, domain.ErrInvalidChannel)
}

// Kind tells a subscriber whether an update replaces or patches its state.
type Kind string

const (
	KindSnapshot Kind = "snapshot"
	KindDelta    Kind = "delta"
)

// Update is one delivery to a subscriber. Exactly one payload group is set,
// according to Channel.
type Update struct {
	Channel Channel
	Kind    Kind
	Symbol  string
	Version uint64
	// Resync marks a snapshot sent because a delta could not be computed.
	Resync bool

	// price
	Market *domain.Market
	Fields domain.MarketField

	// book
	Book  *domain.OrderBookSnapshot
	Delta *domain.BookDelta

	// trades: newest first on snapshots, oldest first on deltas.
	Trades []domain.Trade
}

// Payload returns the channel-specific body of the update.
func (u Update) Payload() any {
	switch u.Channel {
	case ChannelPrice:
		if u.Kind == KindDelta {
			return struct {
				Market *domain.Market     `json:"market"`
				Fields domain.MarketField `json:"fields"`
			}{u.Market, u.Fields}
		}
		return u.Market
	case ChannelBook:
		if u.Kind == KindDelta {
			return u.Delta
		}
		return u.Book
	default:
		return u.Trades
	}
}
