package model

// Instance はテナント（独立してホストされるインスタンス）の接続情報を表す。
// プライマリDBのinstanceテーブルから読み込まれ、読み込み後は不変。
type Instance struct {
	ID         string
	Domain     string
	DBName     string
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
}
