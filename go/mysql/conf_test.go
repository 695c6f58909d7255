/*
Copyright 2026 The Asyncer Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mysql

import (
	"crypto/tls"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigNormalize(t *testing.T) {
	conf := NewConfig()
	require.Error(t, conf.normalize(), "host is required")

	conf.Host = "db.example.com"
	require.NoError(t, conf.normalize())
	assert.Equal(t, 3306, conf.Port)
	assert.Equal(t, "utf8mb4", conf.Charset)
	assert.Equal(t, uint8(CharacterSetUtf8mb4), conf.collationID())
	assert.Equal(t, "db.example.com:3306", conf.addr())

	conf.Charset = "klingon"
	require.Error(t, conf.normalize())
	conf.Charset = "latin1"
	require.NoError(t, conf.normalize())
	assert.Equal(t, uint8(8), conf.collationID())

	conf.SslMode = SslVerifyIdentity
	require.Error(t, conf.normalize(), "verification needs a TLS config")
	conf.TLS = &tls.Config{}
	require.NoError(t, conf.normalize())
}

func TestConfigCapabilityMask(t *testing.T) {
	conf := NewConfig()
	conf.Host = "h"
	require.NoError(t, conf.normalize())

	mask := conf.capabilityMask()
	assert.NotZero(t, mask&CapabilityClientProtocol41)
	assert.NotZero(t, mask&CapabilityClientPluginAuth)
	assert.NotZero(t, mask&CapabilityClientDeprecateEOF)
	assert.NotZero(t, mask&CapabilityClientSSL, "preferred mode asks for TLS")
	assert.Zero(t, mask&CapabilityClientConnectWithDB)
	assert.Zero(t, mask&CapabilityClientLocalFiles)

	conf.DBName = "app"
	conf.AllowLocalInfile = true
	conf.MultiStatements = true
	conf.SslMode = SslDisabled
	mask = conf.capabilityMask()
	assert.NotZero(t, mask&CapabilityClientConnectWithDB)
	assert.NotZero(t, mask&CapabilityClientLocalFiles)
	assert.NotZero(t, mask&CapabilityClientMultiStatements)
	assert.Zero(t, mask&CapabilityClientSSL)
}

func TestConfigClone(t *testing.T) {
	conf := NewConfig()
	conf.Host = "h"
	conf.ConnectAttrs = map[string]string{"program_name": "test"}
	conf.TLS = &tls.Config{ServerName: "h"}

	cp := conf.Clone()
	cp.ConnectAttrs["program_name"] = "other"
	cp.TLS.ServerName = "x"
	assert.Equal(t, "test", conf.ConnectAttrs["program_name"])
	assert.Equal(t, "h", conf.TLS.ServerName)
}

func TestSslModeString(t *testing.T) {
	assert.Equal(t, "preferred", SslPreferred.String())
	assert.Equal(t, "verify-identity", SslVerifyIdentity.String())
	assert.False(t, SslDisabled.startSsl())
	assert.True(t, SslRequired.startSsl())
}

func TestSslBridgeAccept(t *testing.T) {
	newBridge := func(mode SslMode) *sslBridge {
		conf := NewConfig()
		conf.Host = "h"
		conf.SslMode = mode
		if mode >= SslVerifyCA {
			conf.TLS = &tls.Config{}
		}
		require.NoError(t, conf.normalize())
		return newSslBridge(conf)
	}

	// Server without TLS.
	up, err := newBridge(SslDisabled).accept(0)
	require.NoError(t, err)
	assert.False(t, up)

	up, err = newBridge(SslPreferred).accept(0)
	require.NoError(t, err)
	assert.False(t, up)

	_, err = newBridge(SslRequired).accept(0)
	require.Error(t, err)
	assert.Equal(t, KindTLSNegotiation, KindOf(err))

	// Server with TLS.
	up, err = newBridge(SslPreferred).accept(CapabilityClientSSL)
	require.NoError(t, err)
	assert.True(t, up)

	up, err = newBridge(SslDisabled).accept(CapabilityClientSSL)
	require.NoError(t, err)
	assert.False(t, up)
}
