package internal

import (
	"context"
	"fmt"

	"github.com/forge-ai/autoalter/internal/media"
	"github.com/forge-ai/autoalter/internal/provider"
	"github.com/forge-ai/autoalter/shared/events"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// consume is the delivery loop for upload events. Descriptions are billed per
// call, so a failed delivery is dropped rather than requeued.
func (s *Service) consume(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := s.onImageUploaded(ctx, d); err != nil {
				log.Error().Err(err).Str("key", d.RoutingKey).Msg("handler error")
				d.Nack(false, false)
			} else {
				d.Ack(false)
			}
		}
	}
}

func (s *Service) onImageUploaded(ctx context.Context, d amqp.Delivery) error {
	p, err := events.Unwrap[events.ImageUploadedPayload](d.Body)
	if err != nil {
		return fmt.Errorf("decode %s: %w", events.ImageUploaded, err)
	}

	current := s.store.Current()
	if !current.Status {
		log.Debug().Str("image", p.ImageID).Msg("automatic generation disabled, skipping upload")
		return nil
	}

	ref, err := s.reference(p.URI, p.URL, p.Size)
	if err != nil {
		return s.publish(ctx, events.AltTextFailed, events.AltTextFailedPayload{
			ImageID:  p.ImageID,
			URI:      p.URI,
			Provider: current.Engine,
			Kind:     provider.KindImage.String(),
			Message:  err.Error(),
		})
	}

	lang := p.Language
	if lang == "" {
		lang = current.Language
	}
	text, err := s.orch.DescribeWith(ctx, current, ref, lang)
	if err != nil {
		return s.publish(ctx, events.AltTextFailed, events.AltTextFailedPayload{
			ImageID:  p.ImageID,
			URI:      ref.URI(),
			Provider: current.Engine,
			Kind:     provider.KindOf(err).String(),
			Message:  provider.UserMessage(err),
		})
	}

	log.Info().Str("image", p.ImageID).Str("engine", current.Engine).Msg("alt text generated")
	return s.publish(ctx, events.AltTextGenerated, events.AltTextGeneratedPayload{
		ImageID:    p.ImageID,
		URI:        ref.URI(),
		Text:       text,
		Provider:   current.Engine,
		Language:   lang,
		Suggestion: current.Suggestion,
	})
}

// reference prefers the storage URI and falls back to the public URL.
func (s *Service) reference(uri, url string, size int64) (media.Reference, error) {
	if uri != "" {
		return s.media.Open(uri)
	}
	if url != "" {
		return s.media.Remote(url, size)
	}
	return media.Reference{}, fmt.Errorf("upload names neither uri nor url")
}

func (s *Service) publish(ctx context.Context, key string, payload any) error {
	b, err := events.Wrap(key, payload)
	if err != nil {
		return err
	}
	if s.bus == nil {
		return nil
	}
	return s.bus.Publish(ctx, key, b)
}
