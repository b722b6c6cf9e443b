package types

import "fmt"

// Request and response contracts of the account service.

// AccountKey describes one on-chain key of an account.
type AccountKey struct {
	PublicKey string `json:"public_key"`
	SignAlgo  int    `json:"sign_algo"`
	HashAlgo  int    `json:"hash_algo"`
	Weight    int    `json:"weight"`
}

// AccountKeySignature is a backup key's signature over an identity assertion.
type AccountKeySignature struct {
	PublicKey   string `json:"public_key"`
	SignMessage string `json:"sign_message"`
	Signature   string `json:"signature"`
}

// AccountSignRequest joins a new device key using signatures of existing keys.
type AccountSignRequest struct {
	AccountKey AccountKey            `json:"account_key"`
	Signatures []AccountKeySignature `json:"signatures"`
}

// DeviceInfo identifies the device registering a key.
type DeviceInfo struct {
	DeviceID   string `json:"device_id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	UserAgent  string `json:"user_agent"`
	IP         string `json:"ip,omitempty"`
	City       string `json:"city,omitempty"`
	Country    string `json:"country,omitempty"`
	AppVersion string `json:"app_version,omitempty"`
}

// BackupInfo names the destination of a backup key.
type BackupInfo struct {
	Name string `json:"name"`
	Type int    `json:"type"`
}

// AccountSyncRequest registers a newly added key with the account service.
type AccountSyncRequest struct {
	AccountKey AccountKey  `json:"account_key"`
	DeviceInfo DeviceInfo  `json:"device_info"`
	BackupInfo *BackupInfo `json:"backup_info,omitempty"`
}

// LoginRequest authenticates with a registered key.
type LoginRequest struct {
	Signature  string     `json:"signature"`
	AccountKey AccountKey `json:"account_key"`
	DeviceInfo DeviceInfo `json:"device_info"`
}

// CommonResponse is the envelope of every account service response.
// Status 200 is the only success value.
type CommonResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
}

// OK reports whether the response status is 200.
func (r CommonResponse) OK() bool { return r.Status == 200 }

// Describe returns the status and message for error reporting.
func (r CommonResponse) Describe() string {
	if r.Message == "" {
		return fmt.Sprintf("status %d", r.Status)
	}
	return fmt.Sprintf("status %d: %s", r.Status, r.Message)
}

// LoginResponse carries the custom token for the identity provider.
type LoginResponse struct {
	CommonResponse
	Data *struct {
		CustomToken string `json:"custom_token"`
		ID          string `json:"id"`
	} `json:"data"`
}

// UserInfo is the account service profile of the logged in user.
type UserInfo struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
}

// UserInfoResponse wraps UserInfo.
type UserInfoResponse struct {
	CommonResponse
	Data *UserInfo `json:"data"`
}

// KeyDeviceInfo pairs an on-chain key with the device or backup holding it.
type KeyDeviceInfo struct {
	PublicKey  string      `json:"public_key"`
	Weight     int         `json:"weight"`
	DeviceInfo *DeviceInfo `json:"device,omitempty"`
	BackupInfo *BackupInfo `json:"backup_info,omitempty"`
}

// KeyDeviceInfoResponse wraps the key list.
type KeyDeviceInfoResponse struct {
	CommonResponse
	Data []KeyDeviceInfo `json:"data"`
}

// EVMAddress is the EVM sub-account linked to the current identity on one
// network.
type EVMAddress struct {
	Network string `json:"network"`
	Address string `json:"address"`
}

// EVMAddressResponse wraps EVMAddress.
type EVMAddressResponse struct {
	CommonResponse
	Data *EVMAddress `json:"data"`
}

// EVMAccount is the display view of a cached EVM sub-account.
type EVMAccount struct {
	Network string `json:"network"`
	Address string `json:"address"`
	Name    string `json:"name"`
	// Balance in wei, decimal. Empty when no balance reader is configured.
	Balance string `json:"balance,omitempty"`
}

// DeviceListResponse lists the devices registered for the user.
type DeviceListResponse struct {
	CommonResponse
	Data []DeviceInfo `json:"data"`
}
