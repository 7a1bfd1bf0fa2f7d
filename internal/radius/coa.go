package radius

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2866"
)

// MikroTik vendor ID
const MikrotikVendorID = 14988

// MikroTik vendor-specific attribute types
const (
	MikrotikRateLimit = 8
)

// COAClient sends Disconnect and CoA requests to a router with RADIUS enabled
type COAClient struct {
	addr    string
	secret  string
	timeout time.Duration
}

// NewCOAClient creates a new CoA client for host:port
func NewCOAClient(host string, port int, secret string) *COAClient {
	if port == 0 {
		port = 3799
	}
	return &COAClient{
		addr:    fmt.Sprintf("%s:%d", host, port),
		secret:  secret,
		timeout: 5 * time.Second,
	}
}

// cleanSessionID strips the 0x prefix; MikroTik only matches lowercase ids
func cleanSessionID(sessionID string) string {
	if strings.HasPrefix(sessionID, "0x") || strings.HasPrefix(sessionID, "0X") {
		sessionID = sessionID[2:]
	}
	return strings.ToLower(sessionID)
}

// Disconnect sends a Disconnect-Request for the user's session
func (c *COAClient) Disconnect(ctx context.Context, username, sessionID string) error {
	packet := radius.New(radius.CodeDisconnectRequest, []byte(c.secret))
	if err := rfc2865.UserName_SetString(packet, username); err != nil {
		return fmt.Errorf("set User-Name: %w", err)
	}
	if id := cleanSessionID(sessionID); id != "" {
		if err := rfc2866.AcctSessionID_SetString(packet, id); err != nil {
			return fmt.Errorf("set Acct-Session-Id: %w", err)
		}
	}

	resp, err := c.exchange(ctx, packet)
	if err != nil {
		return err
	}

	switch resp.Code {
	case radius.CodeDisconnectACK:
		log.WithFields(log.Fields{"user": username, "nas": c.addr}).Info("CoA: session disconnected")
		return nil
	case radius.CodeDisconnectNAK:
		return fmt.Errorf("disconnect NAK received - NAS rejected the request")
	default:
		return fmt.Errorf("unexpected disconnect response code: %d", resp.Code)
	}
}

// UpdateRateLimit sends a CoA-Request carrying Mikrotik-Rate-Limit
func (c *COAClient) UpdateRateLimit(ctx context.Context, username, sessionID, rateLimit string) error {
	packet := radius.New(radius.CodeCoARequest, []byte(c.secret))
	if err := rfc2865.UserName_SetString(packet, username); err != nil {
		return fmt.Errorf("set User-Name: %w", err)
	}
	if id := cleanSessionID(sessionID); id != "" {
		if err := rfc2866.AcctSessionID_SetString(packet, id); err != nil {
			return fmt.Errorf("set Acct-Session-Id: %w", err)
		}
	}
	packet.Add(rfc2865.VendorSpecific_Type, rateLimitVSA(rateLimit))

	resp, err := c.exchange(ctx, packet)
	if err != nil {
		return err
	}

	switch resp.Code {
	case radius.CodeCoAACK:
		log.WithFields(log.Fields{"user": username, "rate": rateLimit}).Info("CoA: rate limit updated")
		return nil
	case radius.CodeCoANAK:
		return fmt.Errorf("CoA NAK received - NAS rejected the request")
	default:
		return fmt.Errorf("unexpected CoA response code: %d", resp.Code)
	}
}

// rateLimitVSA builds Vendor-Id(4) + Vendor-Type(1) + Vendor-Length(1) + value
func rateLimitVSA(rateLimit string) radius.Attribute {
	value := []byte(rateLimit)
	vsa := make([]byte, 6+len(value))
	binary.BigEndian.PutUint32(vsa[:4], MikrotikVendorID)
	vsa[4] = MikrotikRateLimit
	vsa[5] = byte(2 + len(value))
	copy(vsa[6:], value)
	return radius.Attribute(vsa)
}

func (c *COAClient) exchange(ctx context.Context, packet *radius.Packet) (*radius.Packet, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := radius.Exchange(ctx, packet, c.addr)
	if err != nil {
		return nil, fmt.Errorf("send to %s: %w", c.addr, err)
	}
	return resp, nil
}
