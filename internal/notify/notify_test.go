package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/thisyearnofear/weather-sub001/internal/model"
)

func highSignal() model.Signal {
	return model.Signal{
		ID:             "sig-1",
		MarketID:       "sb-rain",
		Title:          "Will it rain during the Super Bowl?",
		EventType:      "nfl",
		Confidence:     model.ConfidenceHigh,
		EdgeScore:      8.5,
		WeatherImpact:  "HIGH",
		OddsEfficiency: "INEFFICIENT",
		Reasoning:      "Storm front (70%) arriving at kickoff.",
	}
}

func TestTelegram_SendsHighSignals(t *testing.T) {
	var mu sync.Mutex
	var sent []url.Values

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"edge","username":"edge_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			r.ParseForm()
			mu.Lock()
			sent = append(sent, r.PostForm)
			mu.Unlock()
			io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	n, err := NewTelegram("token", 42, srv.URL+"/bot%s/%s")
	if err != nil {
		t.Fatalf("NewTelegram: %v", err)
	}

	if err := n.NotifySignal(context.Background(), highSignal()); err != nil {
		t.Fatalf("NotifySignal: %v", err)
	}

	low := highSignal()
	low.Confidence = model.ConfidenceMedium
	if err := n.NotifySignal(context.Background(), low); err != nil {
		t.Fatalf("NotifySignal: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	if sent[0].Get("chat_id") != "42" {
		t.Errorf("expected chat_id 42, got %q", sent[0].Get("chat_id"))
	}
	if sent[0].Get("parse_mode") != tgbotapi.ModeMarkdownV2 {
		t.Errorf("expected MarkdownV2, got %q", sent[0].Get("parse_mode"))
	}
	if !strings.Contains(sent[0].Get("text"), "Super Bowl?") {
		t.Errorf("message missing title: %s", sent[0].Get("text"))
	}
}

type failingSender struct{ calls int }

func (f *failingSender) Send(tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.calls++
	return tgbotapi.Message{}, errors.New("network down")
}

func TestTelegram_RetriesThenFails(t *testing.T) {
	fs := &failingSender{}
	n := &Telegram{bot: fs, chatID: 1, maxRetries: 3, retryDelayBase: time.Millisecond}

	err := n.NotifySignal(context.Background(), highSignal())
	if err == nil {
		t.Fatal("expected error after retries")
	}
	if fs.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", fs.calls)
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	got := escapeMarkdownV2("8.5 (high) - go!")
	want := `8\.5 \(high\) \- go\!`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNop(t *testing.T) {
	var n Notifier = Nop{}
	if err := n.NotifySignal(context.Background(), highSignal()); err != nil {
		t.Errorf("Nop returned %v", err)
	}
}
