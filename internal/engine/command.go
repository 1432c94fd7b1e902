// internal/engine/command.go
package engine

type CommandType int

const (
	CmdPlace CommandType = iota
	CmdCancel
	CmdMatch
	CmdOrders
	CmdState
)

type Command struct {
	Type     CommandType
	Side     Side       // used when Type == CmdPlace
	Input    OrderInput // used when Type == CmdPlace
	ID       OrderID    // used when Type == CmdCancel
	TraderID TraderID   // used when Type == CmdCancel or CmdOrders
	Resp     chan any   // engine sends the result back here
}

type placeReply struct {
	ID OrderID
	OK bool
}

type cancelReply struct {
	OK bool
}

type matchReply struct {
	Result *MatchResult
}

type ordersReply struct {
	Orders []Order
}

type stateReply struct {
	State BookState
}
