package msg

// Server to client command opcodes.
const (
	SvcBad             = 0
	SvcMuzzleFlash     = 1
	SvcMuzzleFlash2    = 2
	SvcTempEntity      = 3
	SvcLayout          = 4
	SvcInventory       = 5
	SvcNop             = 6
	SvcDisconnect      = 7
	SvcReconnect       = 8
	SvcSound           = 9
	SvcPrint           = 10
	SvcStuffText       = 11
	SvcServerData      = 12
	SvcConfigString    = 13
	SvcSpawnBaseline   = 14
	SvcCenterPrint     = 15
	SvcDownload        = 16
	SvcPlayerInfo      = 17
	SvcPacketEntities  = 18
	SvcDeltaPacketEnts = 19
	SvcFrame           = 20
)
