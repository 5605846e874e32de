package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/forge-ai/autoalter/internal/provider"
	"github.com/rs/zerolog/log"
)

const telegramAPI = "https://api.telegram.org/bot"

// Telegram forwards provider warnings to an operator chat. Status notices
// stay with the editors.
type Telegram struct {
	token string
	chat  string
	api   string
	http  *http.Client
}

func NewTelegram(token, chat string, httpClient *http.Client) *Telegram {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Telegram{token: token, chat: chat, api: telegramAPI, http: httpClient}
}

func (t *Telegram) Warn(msg string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := t.sendMessage(ctx, "⚠️ autoalter: "+msg); err != nil {
			log.Warn().Err(err).Msg("telegram notification failed")
		}
	}()
}

func (t *Telegram) Status(string) {}

func (t *Telegram) sendMessage(ctx context.Context, text string) error {
	body, _ := json.Marshal(map[string]string{
		"chat_id": t.chat,
		"text":    text,
	})
	req, err := http.NewRequestWithContext(ctx, "POST", t.api+t.token+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram %d: %s", resp.StatusCode, b)
	}
	return nil
}

// messengers fans a notice out to every target.
type messengers []provider.Messenger

func (m messengers) Warn(msg string) {
	for _, t := range m {
		t.Warn(msg)
	}
}

func (m messengers) Status(msg string) {
	for _, t := range m {
		t.Status(msg)
	}
}
