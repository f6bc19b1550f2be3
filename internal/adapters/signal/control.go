package signal

import "github.com/dkeye/PoseSync/internal/domain"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendJSON(conn, domain.EventPong, struct{}{})
}
