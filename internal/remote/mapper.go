package remote

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"postkeeper/internal/model"
)

// asInt reads a numeric field. Missing or non-numeric values read as 0.
func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0
			}
			return int(f)
		}
		return int(i)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}

// asString reads a text field. Missing values read as "".
func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}

func asRaw(v any) Raw {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return Raw{}
}

func PostFromRaw(r Raw) model.Post {
	return model.Post{
		ID:     asInt(r["id"]),
		UserID: asInt(r["userId"]),
		Title:  asString(r["title"]),
		Body:   asString(r["body"]),
	}
}

func PostsFromRaw(rs []Raw) []model.Post {
	out := make([]model.Post, 0, len(rs))
	for _, r := range rs {
		out = append(out, PostFromRaw(r))
	}
	return out
}

// PostToRaw encodes p for the remote. A zero id is left out so the remote
// assigns its own.
func PostToRaw(p model.Post) Raw {
	r := Raw{
		"userId": p.UserID,
		"title":  p.Title,
		"body":   p.Body,
	}
	if p.ID != 0 {
		r["id"] = p.ID
	}
	return r
}

func UserFromRaw(r Raw) model.User {
	addr := asRaw(r["address"])
	geo := asRaw(addr["geo"])
	company := asRaw(r["company"])

	lat, lng := asString(geo["lat"]), asString(geo["lng"])
	if lat == "" {
		lat = "0"
	}
	if lng == "" {
		lng = "0"
	}
	return model.User{
		ID:       asInt(r["id"]),
		Name:     asString(r["name"]),
		Username: asString(r["username"]),
		Email:    asString(r["email"]),
		Phone:    asString(r["phone"]),
		Website:  asString(r["website"]),
		Address: model.Address{
			Street:  asString(addr["street"]),
			Suite:   asString(addr["suite"]),
			City:    asString(addr["city"]),
			Zipcode: asString(addr["zipcode"]),
			Geo:     model.Geo{Lat: lat, Lng: lng},
		},
		Company: model.Company{
			Name:        asString(company["name"]),
			CatchPhrase: asString(company["catchPhrase"]),
			BS:          asString(company["bs"]),
		},
	}
}

func UsersFromRaw(rs []Raw) []model.User {
	out := make([]model.User, 0, len(rs))
	for _, r := range rs {
		out = append(out, UserFromRaw(r))
	}
	return out
}
