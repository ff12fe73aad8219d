// Package messaging sends WhatsApp replies through Twilio.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"golang.org/x/time/rate"

	"github.com/fabfab/campus-assistant/config"
	"github.com/fabfab/campus-assistant/textnorm"
)

const (
	// SuccessMessage confirms that the provider accepted a message.
	SuccessMessage = "Mensaje enviado correctamente"
	// MaxBodyRunes is the longest body WhatsApp accepts.
	MaxBodyRunes = 1600

	channelPrefix = "whatsapp:"
)

// ErrNotConfigured is returned by Send when no Twilio credentials are set.
var ErrNotConfigured = errors.New("messaging gateway not configured")

// MessageCreator is the part of the Twilio REST API used to send messages.
type MessageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

type Gateway struct {
	creator MessageCreator
	from    string
	limiter *rate.Limiter
	logger  *log.Logger
}

// NewGateway builds a Twilio backed gateway. Without an account SID and auth
// token the gateway is created unconfigured and every Send fails with
// ErrNotConfigured.
func NewGateway(cfg config.TwilioConfig, logger *log.Logger) *Gateway {
	var creator MessageCreator
	if cfg.AccountSID != "" && cfg.AuthToken != "" {
		client := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		})
		creator = client.Api
	}
	return NewGatewayWithCreator(creator, cfg.PhoneNumber, cfg.RatePerSecond, logger)
}

// NewGatewayWithCreator sends through creator. ratePerSecond <= 0 disables
// throttling.
func NewGatewayWithCreator(creator MessageCreator, from string, ratePerSecond float64, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}

	return &Gateway{
		creator: creator,
		from:    from,
		limiter: limiter,
		logger:  logger,
	}
}

// Configured reports whether Send can reach the provider.
func (g *Gateway) Configured() bool {
	return g.creator != nil && g.from != ""
}

// Send delivers body to the WhatsApp number to. It makes a single attempt and
// returns SuccessMessage once the provider accepts the message.
func (g *Gateway) Send(ctx context.Context, to, body string) (string, error) {
	if !g.Configured() {
		return "", ErrNotConfigured
	}

	recipient := NormalizeNumber(to)
	if recipient == "" {
		return "", fmt.Errorf("recipient number is empty")
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for send slot: %w", err)
	}

	params := &openapi.CreateMessageParams{}
	params.SetFrom(channelPrefix + NormalizeNumber(g.from))
	params.SetTo(channelPrefix + recipient)
	params.SetBody(textnorm.Truncate(body, MaxBodyRunes))

	msg, err := g.creator.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("send whatsapp message to %s: %w", recipient, err)
	}

	sid := ""
	if msg != nil && msg.Sid != nil {
		sid = *msg.Sid
	}
	g.logger.Printf("sent message %s to %s", sid, recipient)
	return SuccessMessage, nil
}

// NormalizeNumber strips the whatsapp: channel prefix and makes sure the
// number starts with "+".
func NormalizeNumber(number string) string {
	number = strings.TrimSpace(number)
	if len(number) >= len(channelPrefix) && strings.EqualFold(number[:len(channelPrefix)], channelPrefix) {
		number = strings.TrimSpace(number[len(channelPrefix):])
	}
	if number == "" {
		return ""
	}
	if !strings.HasPrefix(number, "+") {
		number = "+" + number
	}
	return number
}
