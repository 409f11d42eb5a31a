// Package mockdata produces synthetic chat messages for the streaming test bench.
package mockdata

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TimurManjosov/tgforwarder/internal/engine"
)

var (
	Senders = []string{"admin_bot", "crypto_king", "alice_w", "bob_builder", "system_monitor", "spam_hub", "telethon_user"}
	Chats   = []string{"DevOps Alerts", "Crypto Moon Shots", "General Chat", "Marketing", "Server Logs", "Family Group"}

	// Templates take exactly one %s.
	Templates = []string{
		"[URGENT] Server %s is not responding. High CPU usage detected.",
		"🚀 Bitcoin is pumping! Buy %s now before it's too late! #crypto",
		"Hey guys, are we meeting at %s today for the standup?",
		"New deployment started for service: %s.",
		"Click here to claim your free %s prize!",
		"Database connection failed in region %s. Check logs immediately.",
		"Just saw the new movie, it was %s.",
		"Error: Exception in thread \"main\" java.lang.%s",
		"Make $5000/day working from home! Ask me how. #passiveincome %s",
	}
	Variables = []string{"US-EAST-1", "ETH", "10:00 AM", "auth-service", "iPhone 15", "EU-WEST", "amazing", "NullPointerException", "LEGIT"}
)

// Generator is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// New returns a generator seeded from the clock.
func New() *Generator {
	return NewSeeded(time.Now().UnixNano())
}

// NewSeeded returns a generator producing a reproducible message sequence.
// Ids and timestamps still vary.
func NewSeeded(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed)), now: time.Now}
}

func (g *Generator) Next() engine.MessageRecord {
	g.mu.Lock()
	tpl := Templates[g.rng.Intn(len(Templates))]
	variable := Variables[g.rng.Intn(len(Variables))]
	sender := Senders[g.rng.Intn(len(Senders))]
	chat := Chats[g.rng.Intn(len(Chats))]
	g.mu.Unlock()

	return engine.MessageRecord{
		ID:          uuid.NewString(),
		MessageText: fmt.Sprintf(tpl, variable),
		Sender:      sender,
		ChatName:    chat,
		Timestamp:   g.now().UTC().Format(time.RFC3339Nano),
	}
}
