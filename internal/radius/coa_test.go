package radius

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2866"
)

const testSecret = "s3cret"

func startNAS(t *testing.T, handler radius.HandlerFunc) (string, int) {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &radius.PacketServer{
		Handler:      handler,
		SecretSource: radius.StaticSecretSource([]byte(testSecret)),
	}
	go srv.Serve(conn)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	host, port, _ := net.SplitHostPort(conn.LocalAddr().String())
	p, _ := strconv.Atoi(port)
	return host, p
}

func TestDisconnect(t *testing.T) {
	var gotUser, gotSession string
	host, port := startNAS(t, func(w radius.ResponseWriter, r *radius.Request) {
		gotUser = rfc2865.UserName_GetString(r.Packet)
		gotSession = rfc2866.AcctSessionID_GetString(r.Packet)
		if gotUser == "known" {
			w.Write(r.Response(radius.CodeDisconnectACK))
			return
		}
		w.Write(r.Response(radius.CodeDisconnectNAK))
	})

	c := NewCOAClient(host, port, testSecret)
	require.NoError(t, c.Disconnect(context.Background(), "known", "0x8100ABCD"))
	assert.Equal(t, "known", gotUser)
	assert.Equal(t, "8100abcd", gotSession)

	err := c.Disconnect(context.Background(), "unknown", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NAK")
}

func TestUpdateRateLimit(t *testing.T) {
	var vsa []byte
	host, port := startNAS(t, func(w radius.ResponseWriter, r *radius.Request) {
		vsa = r.Packet.Get(rfc2865.VendorSpecific_Type)
		w.Write(r.Response(radius.CodeCoAACK))
	})

	c := NewCOAClient(host, port, testSecret)
	require.NoError(t, c.UpdateRateLimit(context.Background(), "cust1", "81000001", "10M/10M"))

	require.Len(t, vsa, 6+len("10M/10M"))
	assert.Equal(t, []byte{0x00, 0x00, 0x3a, 0x8c}, vsa[:4])
	assert.Equal(t, byte(MikrotikRateLimit), vsa[4])
	assert.Equal(t, "10M/10M", string(vsa[6:]))
}

func TestCleanSessionID(t *testing.T) {
	assert.Equal(t, "81ab", cleanSessionID("0x81AB"))
	assert.Equal(t, "81ab", cleanSessionID("81AB"))
	assert.Empty(t, cleanSessionID(""))
}
