package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Account is one seeded bootstrap account.
type Account struct {
	Label    string `yaml:"label"`
	Role     string `yaml:"role"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	FullName string `yaml:"full_name"`
	Site     string `yaml:"site"`
}

// ErrPasswordUnset marks an account whose password is missing. The server
// keeps running with bootstrap disabled rather than refusing to start.
var ErrPasswordUnset = errors.New("password is not set")

type accountsFile struct {
	Accounts []Account `yaml:"accounts"`
}

// DefaultAccounts returns the administrator and front desk accounts with the
// passwords taken from the environment.
func DefaultAccounts(b Bootstrap) []Account {
	return []Account{
		{
			Label:    "Admin",
			Role:     "admin",
			Email:    "admin@ito.mg",
			Password: b.AdminPassword,
			FullName: "Administrateur Principal",
			Site:     "FULL",
		},
		{
			Label:    "Accueil",
			Role:     "accueil",
			Email:    "accueil.tana@ito.mg",
			Password: b.FrontPassword,
			FullName: "Secrétaire Accueil Antananarivo",
			Site:     "T",
		},
	}
}

// LoadAccounts reads the accounts file when configured, falling back to the
// default pair. ${VAR} references in the file are expanded from the environment.
func LoadAccounts(b Bootstrap) ([]Account, error) {
	accounts := DefaultAccounts(b)
	if b.AccountsFile != "" {
		raw, err := os.ReadFile(b.AccountsFile)
		if err != nil {
			return nil, fmt.Errorf("read bootstrap accounts: %w", err)
		}
		accounts, err = ParseAccounts(raw)
		if err != nil {
			return nil, err
		}
	}
	if err := validateAccounts(accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// ParseAccounts decodes a YAML accounts document.
func ParseAccounts(raw []byte) ([]Account, error) {
	var doc accountsFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &doc); err != nil {
		return nil, fmt.Errorf("parse bootstrap accounts: %w", err)
	}
	for i := range doc.Accounts {
		a := &doc.Accounts[i]
		a.Email = strings.TrimSpace(a.Email)
		if a.Label == "" {
			a.Label = a.Role
		}
	}
	return doc.Accounts, nil
}

func validateAccounts(accounts []Account) error {
	if len(accounts) == 0 {
		return errors.New("at least one bootstrap account is required")
	}
	var errs []error
	for i, a := range accounts {
		if a.Email == "" || a.Role == "" || a.Site == "" {
			errs = append(errs, fmt.Errorf("bootstrap account %d: email, role and site are required", i))
		}
		if a.Password == "" {
			errs = append(errs, fmt.Errorf("bootstrap account %q: %w", a.Email, ErrPasswordUnset))
		}
	}
	return errors.Join(errs...)
}
