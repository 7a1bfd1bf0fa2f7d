package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hotspotbill/backend/internal/database"
	"github.com/hotspotbill/backend/internal/handlers"
	"github.com/hotspotbill/backend/internal/models"
	"github.com/hotspotbill/backend/internal/services"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// SeedFile is the layout of a seed.yaml. Profiles and subscriptions refer
// to routers and profiles by name.
type SeedFile struct {
	Settings  map[string]string `yaml:"settings"`
	Users     []SeedUser        `yaml:"users"`
	Routers   []SeedRouter      `yaml:"routers"`
	Profiles  []SeedProfile     `yaml:"profiles"`
	Vendors   []SeedVendor      `yaml:"vendors"`
	Customers []SeedCustomer    `yaml:"customers"`
}

type SeedUser struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
	FullName string `yaml:"full_name"`
	Email    string `yaml:"email"`
}

type SeedRouter struct {
	Name          string `yaml:"name"`
	Host          string `yaml:"host"`
	Description   string `yaml:"description"`
	APIUsername   string `yaml:"api_username"`
	APIPassword   string `yaml:"api_password"`
	APIPort       int    `yaml:"api_port"`
	APISSLPort    int    `yaml:"api_ssl_port"`
	UseSSL        bool   `yaml:"use_ssl"`
	HotspotServer string `yaml:"hotspot_server"`
}

type SeedProfile struct {
	Name           string  `yaml:"name"`
	Type           string  `yaml:"type"`
	Router         string  `yaml:"router"`
	Description    string  `yaml:"description"`
	RateLimit      string  `yaml:"rate_limit"`
	SharedUsers    int     `yaml:"shared_users"`
	SessionTimeout string  `yaml:"session_timeout"`
	Validity       string  `yaml:"validity"`
	QuotaBytes     int64   `yaml:"quota_bytes"`
	LocalAddress   string  `yaml:"local_address"`
	RemoteAddress  string  `yaml:"remote_address"`
	AddressList    string  `yaml:"address_list"`
	Price          float64 `yaml:"price"`
	SellingPrice   float64 `yaml:"selling_price"`
}

type SeedVendor struct {
	Name       string  `yaml:"name"`
	Phone      string  `yaml:"phone"`
	Address    string  `yaml:"address"`
	Commission float64 `yaml:"commission"`
}

type SeedCustomer struct {
	Name          string             `yaml:"name"`
	Phone         string             `yaml:"phone"`
	Email         string             `yaml:"email"`
	Address       string             `yaml:"address"`
	Note          string             `yaml:"note"`
	Subscriptions []SeedSubscription `yaml:"subscriptions"`
}

type SeedSubscription struct {
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	Router        string `yaml:"router"`
	Profile       string `yaml:"profile"`
	RemoteAddress string `yaml:"remote_address"`
	BillingDay    int    `yaml:"billing_day"`
}

// SeedReport counts what a seed run created and skipped
type SeedReport struct {
	Created map[string]int
	Skipped map[string]int
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load settings, users, routers, profiles, vendors and customers from YAML",
		Long: `Load initial data from a YAML file.

Records that already exist (same username or name) are skipped, so the
same file can be applied more than once. Profiles and subscriptions are
pushed to their routers, or queued when a router is unreachable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			seed, err := ParseSeed(f)
			if err != nil {
				return err
			}

			cfg, err := bootstrap(rootOpts, false)
			if err != nil {
				return err
			}
			defer database.Close()
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			rep, err := ApplySeed(cmd.Context(), rt.deps, seed)
			for kind, n := range rep.Created {
				fmt.Fprintf(cmd.OutOrStdout(), "%-14s created %d, skipped %d\n", kind, n, rep.Skipped[kind])
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "seed.yaml", "seed file")
	return cmd
}

// ParseSeed decodes a seed file, rejecting unknown keys
func ParseSeed(r io.Reader) (*SeedFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var seed SeedFile
	if err := dec.Decode(&seed); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &seed, nil
}

// ApplySeed writes the seed through the services so the usual validation
// and router provisioning apply
func ApplySeed(ctx context.Context, d handlers.Deps, seed *SeedFile) (*SeedReport, error) {
	rep := &SeedReport{Created: map[string]int{}, Skipped: map[string]int{}}
	for _, kind := range []string{"settings", "users", "routers", "profiles", "vendors", "customers", "subscriptions"} {
		rep.Created[kind] = 0
	}

	// conflicts are skips, anything else aborts
	track := func(kind, name string, err error) error {
		switch {
		case err == nil:
			rep.Created[kind]++
			return nil
		case errors.Is(err, services.ErrConflict):
			rep.Skipped[kind]++
			log.WithFields(log.Fields{"kind": kind, "name": name}).Info("Seed: already exists, skipped")
			return nil
		default:
			return fmt.Errorf("seed %s %q: %w", kind, name, err)
		}
	}

	if len(seed.Settings) > 0 {
		if err := d.Settings.SetMany(ctx, seed.Settings); err != nil {
			return rep, fmt.Errorf("seed settings: %w", err)
		}
		rep.Created["settings"] = len(seed.Settings)
	}

	for _, u := range seed.Users {
		_, err := d.Users.Create(ctx, services.UserInput{
			Username: u.Username,
			Password: u.Password,
			Role:     models.UserRole(u.Role),
			FullName: u.FullName,
			Email:    u.Email,
		})
		if err := track("users", u.Username, err); err != nil {
			return rep, err
		}
	}

	routerIDs := make(map[string]uint)
	for _, r := range seed.Routers {
		created, err := d.Routers.Create(ctx, services.RouterInput{
			Name:          r.Name,
			Host:          r.Host,
			Description:   r.Description,
			APIUsername:   r.APIUsername,
			APIPassword:   r.APIPassword,
			APIPort:       r.APIPort,
			APISSLPort:    r.APISSLPort,
			UseSSL:        r.UseSSL,
			HotspotServer: r.HotspotServer,
		})
		if created != nil {
			routerIDs[r.Name] = created.ID
		}
		if err := track("routers", r.Name, err); err != nil {
			return rep, err
		}
	}
	routerID := func(name string) (uint, error) {
		if id, ok := routerIDs[name]; ok {
			return id, nil
		}
		var r models.Router
		if err := d.DB.WithContext(ctx).Where("name = ?", name).First(&r).Error; err != nil {
			return 0, fmt.Errorf("unknown router %q", name)
		}
		routerIDs[name] = r.ID
		return r.ID, nil
	}

	for _, p := range seed.Profiles {
		rid, err := routerID(p.Router)
		if err != nil {
			return rep, err
		}
		_, err = d.Profiles.Create(ctx, services.ProfileInput{
			Name:           p.Name,
			Type:           models.ProfileType(p.Type),
			RouterID:       rid,
			Description:    p.Description,
			RateLimit:      p.RateLimit,
			SharedUsers:    p.SharedUsers,
			SessionTimeout: p.SessionTimeout,
			Validity:       p.Validity,
			QuotaBytes:     p.QuotaBytes,
			LocalAddress:   p.LocalAddress,
			RemoteAddress:  p.RemoteAddress,
			AddressList:    p.AddressList,
			Price:          p.Price,
			SellingPrice:   p.SellingPrice,
		})
		if err := track("profiles", p.Name, err); err != nil {
			return rep, err
		}
	}

	for _, v := range seed.Vendors {
		_, err := d.Vendors.Create(ctx, services.VendorInput{
			Name:       v.Name,
			Phone:      v.Phone,
			Address:    v.Address,
			Commission: v.Commission,
		})
		if err := track("vendors", v.Name, err); err != nil {
			return rep, err
		}
	}

	for _, c := range seed.Customers {
		var customer models.Customer
		err := d.DB.WithContext(ctx).Where("name = ? AND phone = ?", c.Name, c.Phone).First(&customer).Error
		if err == nil {
			rep.Skipped["customers"]++
		} else {
			created, err := d.Customers.Create(ctx, services.CustomerInput{
				Name:    c.Name,
				Phone:   c.Phone,
				Email:   c.Email,
				Address: c.Address,
				Note:    c.Note,
			})
			if err := track("customers", c.Name, err); err != nil {
				return rep, err
			}
			customer = *created
		}

		for _, s := range c.Subscriptions {
			rid, err := routerID(s.Router)
			if err != nil {
				return rep, err
			}
			var prof models.Profile
			err = d.DB.WithContext(ctx).
				Where("router_id = ? AND type = ? AND name = ?", rid, models.ProfileTypePPPoE, s.Profile).
				First(&prof).Error
			if err != nil {
				return rep, fmt.Errorf("unknown PPPoE profile %q on router %q", s.Profile, s.Router)
			}
			_, err = d.Subscriptions.Create(ctx, services.SubscriptionInput{
				CustomerID:    customer.ID,
				ProfileID:     prof.ID,
				Username:      s.Username,
				Password:      s.Password,
				RemoteAddress: s.RemoteAddress,
				BillingDay:    s.BillingDay,
			})
			if err := track("subscriptions", s.Username, err); err != nil {
				return rep, err
			}
		}
	}
	return rep, nil
}
