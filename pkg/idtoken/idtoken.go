// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package idtoken decodes OIDC ID tokens into user profiles.
//
// Tokens are decoded without signature verification: they were obtained
// directly from the identity provider over TLS and are only used to describe
// the signed-in user, never to make authorization decisions.
package idtoken

import (
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// customClaimPrefix marks namespaced claims added by identity provider rules.
const customClaimPrefix = "https://"

// Decoder parses ID tokens with golang-jwt.
type Decoder struct {
	parser *jwt.Parser
}

// NewDecoder creates a Decoder.
func NewDecoder() *Decoder {
	return &Decoder{parser: jwt.NewParser(jwt.WithoutClaimsValidation())}
}

// Decode returns the claims of an ID token. It fails when the token is not a
// well-formed JWT.
func (d *Decoder) Decode(idToken string) (map[string]any, error) {
	if idToken == "" {
		return nil, errors.New("ID token is empty")
	}

	token, _, err := d.parser.ParseUnverified(idToken, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("failed to parse ID token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("failed to extract claims")
	}

	return maps.Clone(map[string]any(claims)), nil
}

// Address is the OIDC address claim.
type Address map[string]string

// UserProfile is the user described by an ID token's standard claims.
type UserProfile struct {
	ID                    string         `json:"sub"`
	Name                  string         `json:"name,omitempty"`
	GivenName             string         `json:"givenName,omitempty"`
	FamilyName            string         `json:"familyName,omitempty"`
	MiddleName            string         `json:"middleName,omitempty"`
	Nickname              string         `json:"nickname,omitempty"`
	PreferredUsername     string         `json:"preferredUsername,omitempty"`
	ProfileURL            string         `json:"profileUrl,omitempty"`
	PictureURL            string         `json:"pictureUrl,omitempty"`
	WebsiteURL            string         `json:"websiteUrl,omitempty"`
	Email                 string         `json:"email,omitempty"`
	IsEmailVerified       *bool          `json:"isEmailVerified,omitempty"`
	Gender                string         `json:"gender,omitempty"`
	Birthdate             string         `json:"birthdate,omitempty"`
	ZoneInfo              string         `json:"zoneinfo,omitempty"`
	Locale                string         `json:"locale,omitempty"`
	PhoneNumber           string         `json:"phoneNumber,omitempty"`
	IsPhoneNumberVerified *bool          `json:"isPhoneNumberVerified,omitempty"`
	Address               Address        `json:"address,omitempty"`
	UpdatedAt             string         `json:"updatedAt,omitempty"`
	CustomClaims          map[string]any `json:"customClaims,omitempty"`
}

// NewUserProfile builds a profile from decoded claims.
func NewUserProfile(claims map[string]any) *UserProfile {
	p := &UserProfile{
		ID:                    stringClaim(claims, "sub"),
		Name:                  stringClaim(claims, "name"),
		GivenName:             stringClaim(claims, "given_name"),
		FamilyName:            stringClaim(claims, "family_name"),
		MiddleName:            stringClaim(claims, "middle_name"),
		Nickname:              stringClaim(claims, "nickname"),
		PreferredUsername:     stringClaim(claims, "preferred_username"),
		ProfileURL:            stringClaim(claims, "profile"),
		PictureURL:            stringClaim(claims, "picture"),
		WebsiteURL:            stringClaim(claims, "website"),
		Email:                 stringClaim(claims, "email"),
		IsEmailVerified:       boolClaim(claims, "email_verified"),
		Gender:                stringClaim(claims, "gender"),
		Birthdate:             stringClaim(claims, "birthdate"),
		ZoneInfo:              stringClaim(claims, "zoneinfo"),
		Locale:                stringClaim(claims, "locale"),
		PhoneNumber:           stringClaim(claims, "phone_number"),
		IsPhoneNumberVerified: boolClaim(claims, "phone_number_verified"),
		Address:               addressClaim(claims),
		UpdatedAt:             timeClaim(claims, "updated_at"),
	}

	for k, v := range claims {
		if strings.HasPrefix(k, customClaimPrefix) {
			if p.CustomClaims == nil {
				p.CustomClaims = map[string]any{}
			}
			p.CustomClaims[k] = v
		}
	}

	return p
}

func stringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return s
}

func boolClaim(claims map[string]any, key string) *bool {
	switch v := claims[key].(type) {
	case bool:
		return &v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return &b
		}
	}
	return nil
}

func addressClaim(claims map[string]any) Address {
	raw, ok := claims["address"].(map[string]any)
	if !ok {
		return nil
	}
	addr := Address{}
	for k, v := range raw {
		if s, ok := v.(string); ok {
			addr[k] = s
		}
	}
	if len(addr) == 0 {
		return nil
	}
	return addr
}

// timeClaim renders a numeric date claim as RFC3339. String values are
// passed through since some providers emit them that way.
func timeClaim(claims map[string]any, key string) string {
	switch v := claims[key].(type) {
	case float64:
		return time.Unix(int64(v), 0).UTC().Format(time.RFC3339)
	case string:
		return v
	}
	return ""
}
