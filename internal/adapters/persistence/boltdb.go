package persistence

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	boltdb "github.com/andrew-solarstorm/bolt-db"
	"github.com/bytedance/sonic"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/packlabs/packvault/internal/domain"
)

const (
	PacksBucket     = "packs"
	BundlersBucket  = "bundlers"
	AllowlistBucket = "allowlist"
	ReferralsBucket = "referrals"

	DefaultDBPath = "./data/packvault.db"
)

type StoredHop struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Stable bool   `json:"stable"`
}

type StoredBundler struct {
	ID                     string      `json:"id"`
	Router                 string      `json:"router"`
	RouterType             uint8       `json:"routerType"`
	Token0                 string      `json:"token0"`
	Token1                 string      `json:"token1,omitempty"`
	SingleSided            bool        `json:"singleSided"`
	PercentToken0          uint16      `json:"percentToken0,omitempty"`
	PercentToken1          uint16      `json:"percentToken1,omitempty"`
	Route                  []StoredHop `json:"route,omitempty"`
	ReverseRoute           []StoredHop `json:"reverseRoute,omitempty"`
	PoolID                 string      `json:"poolId,omitempty"`
	Stable                 bool        `json:"stable,omitempty"`
	TickLower              int32       `json:"tickLower,omitempty"`
	TickUpper              int32       `json:"tickUpper,omitempty"`
	PositionManager        string      `json:"positionManager,omitempty"`
	SlippageBps            uint16      `json:"slippageBps,omitempty"`
	ExitPositionOnUnbundle bool        `json:"exitPositionOnUnbundle"`
}

type StoredPosition struct {
	BundlerID       string `json:"bundlerId"`
	Router          string `json:"router"`
	RouterType      uint8  `json:"routerType"`
	Token0          string `json:"token0"`
	Token1          string `json:"token1"`
	LPToken         string `json:"lpToken,omitempty"`
	NFTTokenID      string `json:"nftTokenId,omitempty"`
	Amount          string `json:"amount"`
	PoolID          string `json:"poolId,omitempty"`
	Stable          bool   `json:"stable,omitempty"`
	PositionManager string `json:"positionManager,omitempty"`
	ExitOnUnbundle  bool   `json:"exitOnUnbundle"`
}

type StoredPack struct {
	TokenID    string           `json:"tokenId"`
	Collection string           `json:"collection"`
	PackType   string           `json:"packType,omitempty"`
	PriceWei   string           `json:"priceWei"`
	BundlerIDs []string         `json:"bundlerIds"`
	Positions  []StoredPosition `json:"positions,omitempty"`
	CreatedAt  int64            `json:"createdAt"`
}

type StoredReferral struct {
	BalanceWei string `json:"balanceWei"`
	EarnedWei  string `json:"earnedWei"`
	ClaimedWei string `json:"claimedWei"`
}

type Storage struct {
	db     *boltdb.BoltDatabase
	dbPath string
}

func NewStorage(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}
	os.MkdirAll(filepath.Dir(dbPath), 0755)

	db := boltdb.NewBoltDatabase(dbPath)
	if db == nil {
		return nil, fmt.Errorf("failed to open database at %s", dbPath)
	}

	log.Info().Str("path", dbPath).Msg("[vaultStorage] opened database")

	return &Storage{
		db:     db,
		dbPath: dbPath,
	}, nil
}

func (s *Storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func packKey(collection ethcommon.Address, tokenID *big.Int) []byte {
	return []byte(collection.Hex() + "/" + tokenID.String())
}

func (s *Storage) SavePack(pack *domain.Pack) error {
	stored := packToStored(pack)
	data, err := sonic.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal pack: %w", err)
	}
	return s.db.Set(PacksBucket, packKey(pack.Collection, pack.TokenID), data)
}

func (s *Storage) LoadPack(collection ethcommon.Address, tokenID *big.Int) (*domain.Pack, error) {
	data, err := s.db.Get(PacksBucket, packKey(collection, tokenID))
	if err != nil {
		return nil, fmt.Errorf("failed to load pack %s: %w", tokenID, err)
	}
	if data == nil {
		return nil, nil
	}
	var stored StoredPack
	if err := sonic.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pack %s: %w", tokenID, err)
	}
	return storedToPack(&stored)
}

func (s *Storage) DeletePack(collection ethcommon.Address, tokenID *big.Int) error {
	return s.db.Delete(PacksBucket, packKey(collection, tokenID))
}

func (s *Storage) LoadAllPacks() ([]*domain.Pack, error) {
	data, err := s.db.List(PacksBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to list packs: %w", err)
	}

	packs := make([]*domain.Pack, 0, len(data))
	failed := 0
	for key, value := range data {
		var stored StoredPack
		if err := sonic.Unmarshal(value, &stored); err != nil {
			log.Error().Str("key", key).Err(err).Msg("[vaultStorage] failed to unmarshal pack, skipping")
			failed++
			continue
		}
		pack, err := storedToPack(&stored)
		if err != nil {
			log.Error().Str("key", key).Err(err).Msg("[vaultStorage] failed to convert stored pack, skipping")
			failed++
			continue
		}
		packs = append(packs, pack)
	}

	if failed > 0 {
		log.Error().
			Int("total_in_db", len(data)).
			Int("loaded", len(packs)).
			Int("failed", failed).
			Msg("[vaultStorage] pack loading completed with errors")
	} else {
		log.Info().
			Int("loaded", len(packs)).
			Msg("[vaultStorage] pack loading completed successfully")
	}
	return packs, nil
}

func (s *Storage) SaveBundler(preset *domain.BundlerPreset) error {
	stored := bundlerToStored(preset)
	data, err := sonic.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal bundler: %w", err)
	}
	return s.db.Set(BundlersBucket, []byte(preset.ID.String()), data)
}

func (s *Storage) SaveBundlerBatch(presets []*domain.BundlerPreset) error {
	if len(presets) == 0 {
		return nil
	}

	batch := s.db.NewBatch()
	for _, preset := range presets {
		data, err := sonic.Marshal(bundlerToStored(preset))
		if err != nil {
			return fmt.Errorf("failed to marshal bundler %s: %w", preset.ID, err)
		}
		value := data
		op := &boltdb.WriteOperation{
			Bucket: []byte(BundlersBucket),
			Key:    []byte(preset.ID.String()),
			Value:  &value,
			Op:     boltdb.OpSet,
		}
		if err := batch.Add(op); err != nil {
			return fmt.Errorf("failed to add bundler %s to batch: %w", preset.ID, err)
		}
	}

	if err := batch.Execute(); err != nil {
		log.Error().Err(err).Int("count", len(presets)).Msg("[vaultStorage] FAILED to execute bundler batch")
		return err
	}

	log.Info().Int("count", len(presets)).Msg("[vaultStorage] saved bundler batch")
	return nil
}

func (s *Storage) LoadAllBundlers() ([]*domain.BundlerPreset, error) {
	data, err := s.db.List(BundlersBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to list bundlers: %w", err)
	}

	presets := make([]*domain.BundlerPreset, 0, len(data))
	for key, value := range data {
		var stored StoredBundler
		if err := sonic.Unmarshal(value, &stored); err != nil {
			log.Warn().Str("id", key).Err(err).Msg("[vaultStorage] failed to unmarshal bundler, skipping")
			continue
		}
		preset, err := storedToBundler(&stored)
		if err != nil {
			log.Warn().Str("id", key).Err(err).Msg("[vaultStorage] invalid stored bundler, skipping")
			continue
		}
		presets = append(presets, preset)
	}
	return presets, nil
}

func (s *Storage) SetAllowed(token ethcommon.Address, allowed bool) error {
	if !allowed {
		return s.db.Delete(AllowlistBucket, []byte(token.Hex()))
	}
	return s.db.Set(AllowlistBucket, []byte(token.Hex()), []byte("1"))
}

func (s *Storage) LoadAllowlist() ([]ethcommon.Address, error) {
	data, err := s.db.List(AllowlistBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to list allowlist: %w", err)
	}
	tokens := make([]ethcommon.Address, 0, len(data))
	for key := range data {
		if !ethcommon.IsHexAddress(key) {
			log.Warn().Str("key", key).Msg("[vaultStorage] invalid allowlist entry, skipping")
			continue
		}
		tokens = append(tokens, ethcommon.HexToAddress(key))
	}
	return tokens, nil
}

func (s *Storage) SaveReferral(referrer ethcommon.Address, balance, earned, claimed *big.Int) error {
	stored := StoredReferral{
		BalanceWei: balance.String(),
		EarnedWei:  earned.String(),
		ClaimedWei: claimed.String(),
	}
	data, err := sonic.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal referral: %w", err)
	}
	return s.db.Set(ReferralsBucket, []byte(referrer.Hex()), data)
}

func (s *Storage) LoadAllReferrals() (map[ethcommon.Address]StoredReferral, error) {
	data, err := s.db.List(ReferralsBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to list referrals: %w", err)
	}
	out := make(map[ethcommon.Address]StoredReferral, len(data))
	for key, value := range data {
		if !ethcommon.IsHexAddress(key) {
			log.Warn().Str("key", key).Msg("[vaultStorage] invalid referral key, skipping")
			continue
		}
		var stored StoredReferral
		if err := sonic.Unmarshal(value, &stored); err != nil {
			log.Warn().Str("key", key).Err(err).Msg("[vaultStorage] failed to unmarshal referral, skipping")
			continue
		}
		out[ethcommon.HexToAddress(key)] = stored
	}
	return out, nil
}

func bundlerToStored(preset *domain.BundlerPreset) *StoredBundler {
	stored := &StoredBundler{
		ID:                     preset.ID.String(),
		Router:                 preset.Router.Hex(),
		RouterType:             uint8(preset.RouterType),
		Token0:                 preset.Token0.Hex(),
		SingleSided:            preset.SingleSided,
		PercentToken0:          preset.PercentToken0,
		PercentToken1:          preset.PercentToken1,
		Route:                  hopsToStored(preset.Route),
		ReverseRoute:           hopsToStored(preset.ReverseRoute),
		Stable:                 preset.Stable,
		TickLower:              preset.TickLower,
		TickUpper:              preset.TickUpper,
		SlippageBps:            preset.SlippageBps,
		ExitPositionOnUnbundle: preset.ExitPositionOnUnbundle,
	}
	if preset.Token1 != (ethcommon.Address{}) {
		stored.Token1 = preset.Token1.Hex()
	}
	if preset.PoolID != (ethcommon.Hash{}) {
		stored.PoolID = preset.PoolID.Hex()
	}
	if preset.PositionManager != (ethcommon.Address{}) {
		stored.PositionManager = preset.PositionManager.Hex()
	}
	return stored
}

func storedToBundler(stored *StoredBundler) (*domain.BundlerPreset, error) {
	if stored.ID == "" {
		return nil, fmt.Errorf("empty bundler id")
	}
	id := domain.BundlerIDFromString(stored.ID)
	if !ethcommon.IsHexAddress(stored.Router) {
		return nil, fmt.Errorf("invalid router address %q", stored.Router)
	}
	preset := &domain.BundlerPreset{
		ID:                     id,
		Router:                 ethcommon.HexToAddress(stored.Router),
		RouterType:             domain.RouterType(stored.RouterType),
		Token0:                 ethcommon.HexToAddress(stored.Token0),
		Token1:                 ethcommon.HexToAddress(stored.Token1),
		SingleSided:            stored.SingleSided,
		PercentToken0:          stored.PercentToken0,
		PercentToken1:          stored.PercentToken1,
		Route:                  storedToHops(stored.Route),
		ReverseRoute:           storedToHops(stored.ReverseRoute),
		Stable:                 stored.Stable,
		TickLower:              stored.TickLower,
		TickUpper:              stored.TickUpper,
		PositionManager:        ethcommon.HexToAddress(stored.PositionManager),
		SlippageBps:            stored.SlippageBps,
		ExitPositionOnUnbundle: stored.ExitPositionOnUnbundle,
	}
	if stored.PoolID != "" {
		preset.PoolID = ethcommon.HexToHash(stored.PoolID)
	}
	return preset, nil
}

func packToStored(pack *domain.Pack) *StoredPack {
	bundlerIDs := make([]string, len(pack.BundlerIDs))
	for i, id := range pack.BundlerIDs {
		bundlerIDs[i] = id.String()
	}
	positions := make([]StoredPosition, len(pack.Positions))
	for i, pos := range pack.Positions {
		positions[i] = positionToStored(pos)
	}
	packType := ""
	if pack.PackType != (domain.PackType{}) {
		packType = domain.BundlerID(pack.PackType).String()
	}
	return &StoredPack{
		TokenID:    pack.TokenID.String(),
		Collection: pack.Collection.Hex(),
		PackType:   packType,
		PriceWei:   pack.PriceWei.String(),
		BundlerIDs: bundlerIDs,
		Positions:  positions,
		CreatedAt:  pack.CreatedAt,
	}
}

func storedToPack(stored *StoredPack) (*domain.Pack, error) {
	tokenID, ok := new(big.Int).SetString(stored.TokenID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid tokenId %q", stored.TokenID)
	}
	price, ok := new(big.Int).SetString(stored.PriceWei, 10)
	if !ok {
		return nil, fmt.Errorf("invalid priceWei %q", stored.PriceWei)
	}
	bundlerIDs := make([]domain.BundlerID, 0, len(stored.BundlerIDs))
	for _, raw := range stored.BundlerIDs {
		bundlerIDs = append(bundlerIDs, domain.BundlerIDFromString(raw))
	}
	positions := make([]domain.LiquidityPosition, 0, len(stored.Positions))
	for _, sp := range stored.Positions {
		pos, err := storedToPosition(&sp)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	pack := &domain.Pack{
		TokenID:    tokenID,
		Collection: ethcommon.HexToAddress(stored.Collection),
		PriceWei:   price,
		BundlerIDs: bundlerIDs,
		Positions:  positions,
		CreatedAt:  stored.CreatedAt,
	}
	if stored.PackType != "" {
		pack.PackType = domain.BundlerIDFromString(stored.PackType)
	}
	return pack, nil
}

func positionToStored(pos domain.LiquidityPosition) StoredPosition {
	stored := StoredPosition{
		BundlerID:      pos.BundlerID.String(),
		Router:         pos.Router.Hex(),
		RouterType:     uint8(pos.RouterType),
		Token0:         pos.Token0.Hex(),
		Token1:         pos.Token1.Hex(),
		Amount:         pos.Amount.String(),
		Stable:         pos.Stable,
		ExitOnUnbundle: pos.ExitOnUnbundle,
	}
	if pos.LPToken != (ethcommon.Address{}) {
		stored.LPToken = pos.LPToken.Hex()
	}
	if pos.NFTTokenID != nil {
		stored.NFTTokenID = pos.NFTTokenID.String()
	}
	if pos.PoolID != (ethcommon.Hash{}) {
		stored.PoolID = pos.PoolID.Hex()
	}
	if pos.PositionManager != (ethcommon.Address{}) {
		stored.PositionManager = pos.PositionManager.Hex()
	}
	return stored
}

func storedToPosition(stored *StoredPosition) (domain.LiquidityPosition, error) {
	id := domain.BundlerIDFromString(stored.BundlerID)
	amount, ok := new(big.Int).SetString(stored.Amount, 10)
	if !ok {
		return domain.LiquidityPosition{}, fmt.Errorf("invalid position amount %q", stored.Amount)
	}
	pos := domain.LiquidityPosition{
		BundlerID:       id,
		Router:          ethcommon.HexToAddress(stored.Router),
		RouterType:      domain.RouterType(stored.RouterType),
		Token0:          ethcommon.HexToAddress(stored.Token0),
		Token1:          ethcommon.HexToAddress(stored.Token1),
		LPToken:         ethcommon.HexToAddress(stored.LPToken),
		Amount:          amount,
		Stable:          stored.Stable,
		PositionManager: ethcommon.HexToAddress(stored.PositionManager),
		ExitOnUnbundle:  stored.ExitOnUnbundle,
	}
	if stored.NFTTokenID != "" {
		nftID, ok := new(big.Int).SetString(stored.NFTTokenID, 10)
		if !ok {
			return domain.LiquidityPosition{}, fmt.Errorf("invalid position nft id %q", stored.NFTTokenID)
		}
		pos.NFTTokenID = nftID
	}
	if stored.PoolID != "" {
		pos.PoolID = ethcommon.HexToHash(stored.PoolID)
	}
	return pos, nil
}
