// Package conversation routes inbound messages to the answer generator and
// records each sender's history.
package conversation

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/fabfab/campus-assistant/chat"
)

// ApologyMessage is returned when answering a message failed unexpectedly.
const ApologyMessage = "Lo siento, ocurrió un error al procesar tu mensaje. Por favor, intenta de nuevo."

// Answerer produces the reply to one question.
type Answerer interface {
	Answer(ctx context.Context, question string) chat.Response
}

type Service struct {
	answerer Answerer
	store    Store
	logger   *log.Logger
	now      func() time.Time
}

func NewService(answerer Answerer, store Store, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if store == nil {
		store = NewMemoryStore(0)
	}

	return &Service{
		answerer: answerer,
		store:    store,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle answers message on behalf of sender and records the turn. It always
// returns text suitable for sending back.
func (s *Service) Handle(ctx context.Context, sender, message string) (reply string) {
	s.logger.Printf("message from %s: %q", sender, message)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("panic while answering %s: %v", sender, r)
			reply = ApologyMessage
		}
	}()

	answer, err := s.answer(ctx, message)
	if err != nil {
		s.logger.Printf("answer error for %s: %v", sender, err)
		return ApologyMessage
	}

	if err := s.store.Append(ctx, sender, Turn{Question: message, Answer: answer, At: s.now()}); err != nil {
		s.logger.Printf("store turn for %s: %v", sender, err)
	}

	s.logger.Printf("reply to %s: %q", sender, answer)
	return answer
}

// History returns the recorded turns of sender.
func (s *Service) History(ctx context.Context, sender string) ([]Turn, error) {
	return s.store.History(ctx, sender)
}

func (s *Service) answer(ctx context.Context, message string) (string, error) {
	if s.answerer == nil {
		return "", fmt.Errorf("answerer is not configured")
	}
	return s.answerer.Answer(ctx, message).Answer, nil
}
