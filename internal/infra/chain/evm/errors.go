package evm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/vietddude/reactor/internal/core/domain"
)

// Classify maps a raw client error onto the domain taxonomy. The original
// error stays in the chain for errors.Is / errors.As.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if known(err) {
		return err
	}
	return fmt.Errorf("%w: %w", category(err), err)
}

var taxonomy = []error{
	domain.ErrNetwork,
	domain.ErrContractCall,
	domain.ErrUnderfunded,
	domain.ErrNonce,
	domain.ErrAlreadyKnown,
	domain.ErrSigning,
	domain.ErrSubscriptionUnsupported,
}

func known(err error) bool {
	for _, sentinel := range taxonomy {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func category(err error) error {
	if errors.Is(err, rpc.ErrNotificationsUnsupported) {
		return domain.ErrSubscriptionUnsupported
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.ErrNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.ErrNetwork
	}

	s := strings.ToLower(err.Error())

	switch {
	case strings.Contains(s, "already known"),
		strings.Contains(s, "known transaction"),
		strings.Contains(s, "already imported"):
		return domain.ErrAlreadyKnown
	case strings.Contains(s, "insufficient funds"):
		return domain.ErrUnderfunded
	case strings.Contains(s, "nonce too low"),
		strings.Contains(s, "nonce too high"),
		strings.Contains(s, "invalid nonce"),
		strings.Contains(s, "replacement transaction underpriced"):
		return domain.ErrNonce
	case strings.Contains(s, "notifications not supported"):
		return domain.ErrSubscriptionUnsupported
	}

	// Request or contract issues
	// -32700: Parse error, -32600: Invalid Request, -32601: Method not found, -32602: Invalid params
	if strings.Contains(s, "execution reverted") || strings.Contains(s, "revert") ||
		strings.Contains(s, "invalid opcode") || strings.Contains(s, "abi:") ||
		strings.Contains(s, "-32700") || strings.Contains(s, "-32600") ||
		strings.Contains(s, "-32601") || strings.Contains(s, "-32602") ||
		strings.Contains(s, "invalid argument") {
		return domain.ErrContractCall
	}

	// Default to network (429, 5xx, closed sockets, EOF ...)
	return domain.ErrNetwork
}
