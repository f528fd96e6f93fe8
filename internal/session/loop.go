package session

import (
	"go.uber.org/zap"

	"github.com/BasicAcid/locnet/internal/wire"
	"github.com/BasicAcid/locnet/internal/xerrors"
)

// RunLoop drives sess until the connection closes or a non-recoverable
// error response is sent, per the dispatch loop of spec.md §4.D: receive
// one Message, answer Requests through d, silently consume
// NeighbourhoodChanged acks, and close on any other unsolicited Response
// or transport failure. The caller owns closing sess afterward.
func RunLoop(sess *Session, d Dispatcher, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	for {
		msg, err := sess.ReceiveMessage()
		if err != nil {
			log.Debug("session read ended", zap.Error(err))
			return
		}

		if msg.IsResponse() {
			if msg.Resp.NeighbourhoodChanged != nil {
				continue
			}
			log.Warn("unexpected unsolicited response, closing session")
			return
		}
		if msg.Req == nil {
			log.Warn("empty message, closing session")
			return
		}

		resp, dispatchErr := d.Dispatch(msg.Req, sess)
		status := xerrors.Classify(dispatchErr)
		if resp == nil {
			resp = &wire.Response{}
		}
		resp.Status = status
		if dispatchErr != nil {
			resp.Details = dispatchErr.Error()
			log.Debug("request failed", zap.String("variant", msg.Req.Variant()), zap.Error(dispatchErr))
		}

		reply := &wire.Message{ID: msg.ID, Version: wire.CurrentVersion, Resp: resp}
		if sendErr := sess.SendMessage(reply); sendErr != nil {
			log.Debug("failed to send response, closing session", zap.Error(sendErr))
			return
		}
		if xerrors.Terminal(dispatchErr) {
			return
		}
	}
}
