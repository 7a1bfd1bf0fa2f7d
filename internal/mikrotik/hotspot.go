package mikrotik

import (
	"context"
	"strconv"
)

const (
	pathHotspotUser    = "/ip/hotspot/user"
	pathHotspotActive  = "/ip/hotspot/active"
	pathHotspotProfile = "/ip/hotspot/user/profile"
)

// HotspotUser is an /ip/hotspot/user entry
type HotspotUser struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Password        string `json:"password,omitempty"`
	Profile         string `json:"profile"`
	Server          string `json:"server,omitempty"`
	LimitUptime     string `json:"limit_uptime,omitempty"`
	LimitBytesTotal int64  `json:"limit_bytes_total,omitempty"`
	MACAddress      string `json:"mac_address,omitempty"`
	Comment         string `json:"comment,omitempty"`
	Disabled        bool   `json:"disabled"`

	// Counters, read only
	Uptime   string `json:"uptime,omitempty"`
	BytesIn  int64  `json:"bytes_in"`
	BytesOut int64  `json:"bytes_out"`
}

func (u HotspotUser) words(set bool) []string {
	var limitBytes []string
	if u.LimitBytesTotal > 0 || set {
		limitBytes = Attr("limit-bytes-total", strconv.FormatInt(u.LimitBytesTotal, 10))
	}
	return attrs(
		Attr("name", u.Name),
		Attr("password", u.Password),
		Attr("profile", u.Profile),
		Attr("server", u.Server),
		field(set, "limit-uptime", u.LimitUptime),
		limitBytes,
		field(set, "mac-address", u.MACAddress),
		field(set, "comment", u.Comment),
		[]string{"=disabled=" + yesNo(u.Disabled)},
	)
}

func hotspotUserFromRow(r map[string]string) HotspotUser {
	return HotspotUser{
		ID:              r[".id"],
		Name:            r["name"],
		Password:        r["password"],
		Profile:         r["profile"],
		Server:          r["server"],
		LimitUptime:     r["limit-uptime"],
		LimitBytesTotal: parseInt64(r["limit-bytes-total"]),
		MACAddress:      r["mac-address"],
		Comment:         r["comment"],
		Disabled:        parseBool(r["disabled"]),
		Uptime:          r["uptime"],
		BytesIn:         parseInt64(r["bytes-in"]),
		BytesOut:        parseInt64(r["bytes-out"]),
	}
}

// AddHotspotUser creates a hotspot user and returns its router id
func (rc *RouterClient) AddHotspotUser(ctx context.Context, u HotspotUser) (string, error) {
	return rc.add(ctx, pathHotspotUser, u.words(false)...)
}

// SetHotspotUser overwrites the attributes of the user called u.Name
func (rc *RouterClient) SetHotspotUser(ctx context.Context, u HotspotUser) error {
	return rc.byName(ctx, pathHotspotUser, "set", u.Name, u.words(true)...)
}

// RemoveHotspotUser deletes a hotspot user by name
func (rc *RouterClient) RemoveHotspotUser(ctx context.Context, name string) error {
	return rc.byName(ctx, pathHotspotUser, "remove", name)
}

// EnableHotspotUser enables a hotspot user by name
func (rc *RouterClient) EnableHotspotUser(ctx context.Context, name string) error {
	return rc.byName(ctx, pathHotspotUser, "enable", name)
}

// DisableHotspotUser disables a hotspot user by name
func (rc *RouterClient) DisableHotspotUser(ctx context.Context, name string) error {
	return rc.byName(ctx, pathHotspotUser, "disable", name)
}

// FindHotspotUser returns the user called name, nil when absent
func (rc *RouterClient) FindHotspotUser(ctx context.Context, name string) (*HotspotUser, error) {
	rows, err := rc.Run(ctx, pathHotspotUser+"/print", "?name="+name)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	u := hotspotUserFromRow(rows[0])
	return &u, nil
}

// ListHotspotUsers lists hotspot users, only those with the given comment
// when comment is not empty
func (rc *RouterClient) ListHotspotUsers(ctx context.Context, comment string) ([]HotspotUser, error) {
	var query []string
	if comment != "" {
		query = []string{"?comment=" + comment}
	}
	rows, err := rc.Run(ctx, pathHotspotUser+"/print", query...)
	if err != nil {
		return nil, err
	}
	users := make([]HotspotUser, 0, len(rows))
	for _, r := range rows {
		users = append(users, hotspotUserFromRow(r))
	}
	return users, nil
}

// RemoveHotspotUsersByComment deletes every user tagged with comment and
// returns how many were removed
func (rc *RouterClient) RemoveHotspotUsersByComment(ctx context.Context, comment string) (int, error) {
	rows, err := rc.Run(ctx, pathHotspotUser+"/print", "=.proplist=.id", "?comment="+comment)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r[".id"])
	}
	if err := rc.removeIDs(ctx, pathHotspotUser, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// HotspotActive is an /ip/hotspot/active session
type HotspotActive struct {
	ID         string `json:"id"`
	User       string `json:"user"`
	Server     string `json:"server"`
	Address    string `json:"address"`
	MACAddress string `json:"mac_address"`
	Uptime     string `json:"uptime"`
	LoginBy    string `json:"login_by"`
	BytesIn    int64  `json:"bytes_in"`
	BytesOut   int64  `json:"bytes_out"`
}

// ListHotspotActive lists logged-in hotspot sessions
func (rc *RouterClient) ListHotspotActive(ctx context.Context) ([]HotspotActive, error) {
	rows, err := rc.Run(ctx, pathHotspotActive+"/print")
	if err != nil {
		return nil, err
	}
	sessions := make([]HotspotActive, 0, len(rows))
	for _, r := range rows {
		sessions = append(sessions, HotspotActive{
			ID:         r[".id"],
			User:       r["user"],
			Server:     r["server"],
			Address:    r["address"],
			MACAddress: r["mac-address"],
			Uptime:     r["uptime"],
			LoginBy:    r["login-by"],
			BytesIn:    parseInt64(r["bytes-in"]),
			BytesOut:   parseInt64(r["bytes-out"]),
		})
	}
	return sessions, nil
}

// KickHotspotActive ends every active session of user and returns the count
func (rc *RouterClient) KickHotspotActive(ctx context.Context, user string) (int, error) {
	rows, err := rc.Run(ctx, pathHotspotActive+"/print", "=.proplist=.id", "?user="+user)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r[".id"])
	}
	if err := rc.removeIDs(ctx, pathHotspotActive, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// HotspotProfile is an /ip/hotspot/user/profile entry
type HotspotProfile struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	RateLimit      string `json:"rate_limit"`
	SharedUsers    int    `json:"shared_users"`
	SessionTimeout string `json:"session_timeout"`
	AddressList    string `json:"address_list"`
}

func (p HotspotProfile) words(set bool) []string {
	var shared []string
	if p.SharedUsers > 0 {
		shared = Attr("shared-users", strconv.Itoa(p.SharedUsers))
	}
	return attrs(
		Attr("name", p.Name),
		field(set, "rate-limit", p.RateLimit),
		shared,
		field(set, "session-timeout", p.SessionTimeout),
		field(set, "address-list", p.AddressList),
	)
}

// UpsertHotspotProfile creates the profile or updates it when it exists
func (rc *RouterClient) UpsertHotspotProfile(ctx context.Context, p HotspotProfile) error {
	id, err := rc.findID(ctx, pathHotspotProfile, "name", p.Name)
	if err != nil {
		return err
	}
	if id == "" {
		_, err = rc.add(ctx, pathHotspotProfile, p.words(false)...)
		return err
	}
	_, err = rc.Exec(ctx, pathHotspotProfile+"/set", append([]string{"=.id=" + id}, p.words(true)...)...)
	return err
}

// RemoveHotspotProfile deletes a hotspot user profile by name
func (rc *RouterClient) RemoveHotspotProfile(ctx context.Context, name string) error {
	return rc.byName(ctx, pathHotspotProfile, "remove", name)
}

// ListHotspotProfiles lists hotspot user profiles
func (rc *RouterClient) ListHotspotProfiles(ctx context.Context) ([]HotspotProfile, error) {
	rows, err := rc.Run(ctx, pathHotspotProfile+"/print")
	if err != nil {
		return nil, err
	}
	profiles := make([]HotspotProfile, 0, len(rows))
	for _, r := range rows {
		profiles = append(profiles, HotspotProfile{
			ID:             r[".id"],
			Name:           r["name"],
			RateLimit:      r["rate-limit"],
			SharedUsers:    parseInt(r["shared-users"]),
			SessionTimeout: r["session-timeout"],
			AddressList:    r["address-list"],
		})
	}
	return profiles, nil
}
