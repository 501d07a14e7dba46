package users

import (
	"context"
	_ "embed"
	"os"
	"strings"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var defaultSeed []byte

type seedFile struct {
	Users []seedUser `yaml:"users"`
}

// seedUser は password_hash（bcrypt）か password（読み込み時にハッシュ化）のどちらかを持ちます。
type seedUser struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
	DisplayName  string `yaml:"display_name"`
}

// StaticDirectory は起動時に読み込んだユーザー一覧を保持します。
// 読み込み後は変更しないため、並行読み取りに対して安全です。
type StaticDirectory struct {
	users map[string]User
}

// NewStaticDirectory はユーザー一覧から StaticDirectory を作成します。
func NewStaticDirectory(list []User) (*StaticDirectory, error) {
	users := make(map[string]User, len(list))
	for _, u := range list {
		if u.Username == "" {
			return nil, oops.Code("USERS_INVALID_SEED").Errorf("username cannot be empty")
		}
		if _, dup := users[u.Username]; dup {
			return nil, oops.Code("USERS_INVALID_SEED").With("username", u.Username).Errorf("duplicate username")
		}
		users[u.Username] = u
	}
	return &StaticDirectory{users: users}, nil
}

// LoadStaticDirectory は YAML ファイルからユーザー一覧を読み込みます。
// path が空の場合は組み込みのシードを使用します。
func LoadStaticDirectory(path string, cost int) (*StaticDirectory, error) {
	data := defaultSeed
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, oops.Code("USERS_SEED_READ_FAILED").With("path", path).Wrap(err)
		}
		data = raw
	}
	return ParseSeed(data, cost)
}

// ParseSeed は YAML のシードを解析します。
func ParseSeed(data []byte, cost int) (*StaticDirectory, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, oops.Code("USERS_INVALID_SEED").Wrap(err)
	}

	list := make([]User, 0, len(file.Users))
	for _, su := range file.Users {
		hash := strings.TrimSpace(su.PasswordHash)
		if hash == "" {
			if su.Password == "" {
				return nil, oops.Code("USERS_INVALID_SEED").With("username", su.Username).Errorf("password or password_hash is required")
			}
			h, err := HashPassword(su.Password, cost)
			if err != nil {
				return nil, oops.Code("USERS_INVALID_SEED").With("username", su.Username).Wrap(err)
			}
			hash = h
		}
		display := su.DisplayName
		if display == "" {
			display = su.Username
		}
		list = append(list, User{
			Username:     su.Username,
			PasswordHash: hash,
			DisplayName:  display,
		})
	}
	return NewStaticDirectory(list)
}

// Lookup はユーザー名からユーザーを引きます。
func (d *StaticDirectory) Lookup(_ context.Context, username string) (User, error) {
	user, ok := d.users[username]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

// Len は登録ユーザー数を返します。
func (d *StaticDirectory) Len() int {
	return len(d.users)
}
