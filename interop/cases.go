package interop

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"interop-rpc/testpb"
)

// ErrUnknownCase is returned by ParseCase for a name outside the fixed set.
var ErrUnknownCase = errors.New("interop: unknown test case")

// Case names one conformance scenario.
type Case int

const (
	EmptyUnary Case = iota + 1
	LargeUnary
	ClientStreaming
	ServerStreaming
	PingPong
)

var caseNames = map[Case]string{
	EmptyUnary:      "empty_unary",
	LargeUnary:      "large_unary",
	ClientStreaming: "client_streaming",
	ServerStreaming: "server_streaming",
	PingPong:        "ping_pong",
}

func (c Case) String() string {
	if name, ok := caseNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Case(%d)", int(c))
}

// Cases lists every scenario in execution order.
func Cases() []Case {
	return []Case{EmptyUnary, LargeUnary, ClientStreaming, ServerStreaming, PingPong}
}

// CaseNames lists the accepted -test_case values.
func CaseNames() []string {
	names := make([]string, 0, len(caseNames))
	for _, c := range Cases() {
		names = append(names, c.String())
	}
	return names
}

func ParseCase(name string) (Case, error) {
	for _, c := range Cases() {
		if c.String() == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w %q (want one of %s)", ErrUnknownCase, name, strings.Join(CaseNames(), ", "))
}

// Run executes c once against tc.
func Run(ctx context.Context, c Case, tc testpb.TestServiceClient) error {
	switch c {
	case EmptyUnary:
		return DoEmptyUnaryCall(ctx, tc)
	case LargeUnary:
		return DoLargeUnaryCall(ctx, tc)
	case ClientStreaming:
		return DoClientStreaming(ctx, tc)
	case ServerStreaming:
		return DoServerStreaming(ctx, tc)
	case PingPong:
		return DoPingPong(ctx, tc)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCase, c)
	}
}
