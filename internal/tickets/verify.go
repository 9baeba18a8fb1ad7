package tickets

import (
	"context"
	"errors"
	"fmt"

	"github.com/user/ticketbot/internal/platform"
	"github.com/user/ticketbot/internal/storage"
)

// VerifyResult reports the verification count after a Verify call.
type VerifyResult struct {
	Count    int
	Required int
	// Verified is set when this call promoted the ticket to VERIFIED.
	Verified bool
}

// Verify records actor's approval of a closed ticket. The call that commits the
// required-th distinct verification moves the ticket to VERIFIED.
//
// Calls on the same ticket are serialized by the engine's locker, and the
// promotion is a conditional CLOSED to VERIFIED update, so the threshold side
// effects run at most once.
func (e *Engine) Verify(ctx context.Context, channelID string, actor platform.Member) (*VerifyResult, error) {
	var res *VerifyResult
	err := e.withTicket(ctx, channelID, func(t *storage.Ticket, tt TicketType) error {
		if tt.RequiredVerifications <= 0 {
			return precondition("%s tickets do not need verification.", tt.Name)
		}
		if !tt.CanVerify(actor) {
			return permissionDenied("You are not allowed to verify %s tickets.", tt.Name)
		}
		switch t.Status {
		case storage.StatusClosed:
		case storage.StatusVerified:
			return precondition("This ticket is already verified.")
		default:
			return precondition("Only closed tickets can be verified.")
		}

		existing, err := e.store.Verifications(ctx, t.ID)
		if err != nil {
			return transient(err, "Failed to load verifications.")
		}
		for _, v := range existing {
			if v.VerifierID == actor.User.ID {
				return precondition("You have already verified this ticket.")
			}
		}

		now := e.now().UTC()
		v := &storage.Verification{
			TicketID:    t.ID,
			VerifierID:  actor.User.ID,
			ChannelID:   channelID,
			ChannelName: tt.ChannelName(t.Name),
			CreatedAt:   now,
		}
		if err := e.store.AddVerification(ctx, v, memberUser(actor, t.ServerID, now)); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return precondition("You have already verified this ticket.")
			}
			return transient(err, "Failed to save the verification.")
		}

		res = &VerifyResult{Count: len(existing) + 1, Required: tt.RequiredVerifications}
		log := e.log.With().Int64("ticket_id", t.ID).Str("verifier_id", actor.User.ID).Int("count", res.Count).Logger()

		if res.Count < res.Required {
			e.post(ctx, channelID, platform.MessageSend{
				Content: fmt.Sprintf("%s verified this ticket (%d/%d).", actor.Mention(), res.Count, res.Required),
			})
			log.Info().Msg("Ticket verification recorded")
			return nil
		}

		promoted, err := e.store.TransitionTicket(ctx, t.ID, storage.StatusClosed, storage.StatusVerified)
		if err != nil {
			log.Error().Err(err).Msg("Verification threshold reached but status not saved")
			return transient(err, "The verification was saved but the ticket could not be marked verified.")
		}
		if !promoted {
			return nil
		}
		res.Verified = true
		log.Info().Msg("Ticket verified")

		if tt.VerifiedCategory != "" {
			if err := e.platform.EditChannel(ctx, channelID, platform.ChannelEdit{ParentID: tt.VerifiedCategory}); err != nil {
				log.Error().Err(err).Msg("Ticket verified but channel not moved")
				return transient(err, "The ticket is verified but its channel could not be moved.")
			}
		}
		e.post(ctx, channelID, verifiedMessage(tt, res.Count))
		return nil
	})
	return res, err
}
