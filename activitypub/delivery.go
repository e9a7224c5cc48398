package activitypub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/deemkeen/stegofed/domain"
	"github.com/deemkeen/stegofed/util"
	"github.com/rs/zerolog/log"
)

// DeliveryResult is the outcome of delivering one activity to one
// recipient. Failures are reported here and never retried.
type DeliveryResult struct {
	Recipient  string
	Inbox      string
	OK         bool
	StatusCode int
	Err        error
}

// Deliver sends activity, signed as from, to each recipient in turn. The
// activity is logged as outbound exactly once per call, before any
// network I/O, whatever the outcome. Recipients hosted here are
// dispatched in-process; recipients sharing an inbox get a single POST.
func (e *Engine) Deliver(ctx context.Context, activity *Activity, from Sender, recipients []string) []DeliveryResult {
	if activity.Context == nil {
		activity.Context = ActivityStreamsContext
	}
	body, err := json.Marshal(activity)
	if err != nil {
		log.Error().Err(err).Str("activity", activity.ID).Msg("Failed to encode activity")
		return failAll(recipients, err)
	}

	_, err = e.db.CreateActivity(ctx, &domain.Activity{
		ActivityURI:  activity.ID,
		ActivityType: activity.Type,
		ActorURI:     from.IRI,
		ObjectURI:    activity.ObjectID(),
		Direction:    domain.Outbound,
		Public:       activity.IsPublic(),
		RawJSON:      string(body),
	})
	if err != nil {
		log.Error().Err(err).Str("activity", activity.ID).Msg("Failed to record outbound activity")
	}

	results := make([]DeliveryResult, 0, len(recipients))
	posted := make(map[string]DeliveryResult)
	seen := make(map[string]bool)
	for _, recipient := range recipients {
		if recipient == "" || recipient == from.IRI || seen[recipient] {
			continue
		}
		seen[recipient] = true

		res := DeliveryResult{Recipient: recipient}
		actor, err := e.directory.Resolve(ctx, recipient)
		if err != nil {
			res.Err = err
			e.recordAttempt(ctx, activity.ID, res)
			results = append(results, res)
			continue
		}

		if actor.Local {
			res.Inbox = actor.Inbox
			if err := e.Dispatch(ctx, activity, body, actor.IRI); err != nil {
				res.Err = err
			} else {
				res.OK = true
			}
			deliveriesTotal.WithLabelValues(outcomeLabel(res.OK, "local")).Inc()
			results = append(results, res)
			continue
		}

		inbox := actor.DeliveryInbox()
		if prev, ok := posted[inbox]; ok {
			prev.Recipient = recipient
			results = append(results, prev)
			continue
		}
		res.Inbox = inbox
		res.StatusCode, res.Err = e.post(ctx, inbox, body, from)
		res.OK = res.Err == nil
		posted[inbox] = res

		if res.OK {
			log.Debug().Str("activity", activity.ID).Str("inbox", inbox).Int("status", res.StatusCode).Msg("Delivered")
		} else {
			log.Warn().Err(res.Err).Str("activity", activity.ID).Str("inbox", inbox).Msg("Delivery failed")
		}
		deliveriesTotal.WithLabelValues(outcomeLabel(res.OK, "remote")).Inc()
		e.recordAttempt(ctx, activity.ID, res)
		results = append(results, res)
	}
	return results
}

// DeliverToFollowers fans activity out to the sender's accepted remote
// followers plus any extra recipients.
func (e *Engine) DeliverToFollowers(ctx context.Context, activity *Activity, from Sender, extra ...string) []DeliveryResult {
	followers, err := e.db.ReadRemoteFollowerIRIs(ctx, from.IRI)
	if err != nil {
		log.Error().Err(err).Str("actor", from.IRI).Msg("Failed to read followers")
	}
	return e.Deliver(ctx, activity, from, append(followers, extra...))
}

// post signs and sends body to a remote inbox. Any non-2xx answer is an
// error.
func (e *Engine) post(ctx context.Context, inbox string, body []byte, from Sender) (int, error) {
	if err := e.guard.Check(ctx, inbox); err != nil {
		return 0, err
	}
	key, err := ParsePrivateKey(from.PrivateKeyPem)
	if err != nil {
		return 0, fmt.Errorf("failed to parse private key: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Accept", ContentType)
	req.Header.Set("User-Agent", util.UserAgent(e.conf.Conf.SslDomain))
	if err := SignRequest(req, key, from.KeyID, body); err != nil {
		return 0, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxDocumentBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (e *Engine) recordAttempt(ctx context.Context, activityURI string, res DeliveryResult) {
	attempt := &domain.DeliveryAttempt{
		ActivityURI:  activityURI,
		RecipientIRI: res.Recipient,
		InboxURI:     res.Inbox,
		Success:      res.OK,
		StatusCode:   res.StatusCode,
	}
	if res.Err != nil {
		attempt.Error = res.Err.Error()
	}
	if err := e.db.RecordDeliveryAttempt(ctx, attempt); err != nil {
		log.Error().Err(err).Str("activity", activityURI).Msg("Failed to record delivery attempt")
	}
}

func failAll(recipients []string, err error) []DeliveryResult {
	results := make([]DeliveryResult, len(recipients))
	for i, r := range recipients {
		results[i] = DeliveryResult{Recipient: r, Err: err}
	}
	return results
}

func outcomeLabel(ok bool, kind string) string {
	if ok {
		return kind + "_ok"
	}
	return kind + "_failed"
}
