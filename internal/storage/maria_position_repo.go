package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/annel0/arena-sync/internal/vec"
)

// MariaPositionRepo реализует PositionRepo для базы данных MariaDB/MySQL.
// Использует таблицу player_positions для хранения позиций игроков.
type MariaPositionRepo struct {
	db *sql.DB
}

const upsertPosition = `
	INSERT INTO player_positions (uid, x, y, z)
	VALUES (?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		x = VALUES(x),
		y = VALUES(y),
		z = VALUES(z),
		updated_at = CURRENT_TIMESTAMP
`

// NewMariaPositionRepo создает новый репозиторий позиций для MariaDB.
// Автоматически создает таблицу, если она не существует.
//
// Параметры:
//
//	dsn - строка подключения к базе данных (user:pass@tcp(host:port)/dbname)
func NewMariaPositionRepo(ctx context.Context, dsn string) (*MariaPositionRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	repo := &MariaPositionRepo{db: db}
	if err := repo.createTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу: %w", err)
	}

	return repo, nil
}

// createTable создает таблицу player_positions, если она не существует.
func (r *MariaPositionRepo) createTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS player_positions (
			uid        INT         PRIMARY KEY,
			x          FLOAT       NOT NULL,
			y          FLOAT       NOT NULL,
			z          FLOAT       NOT NULL,
			updated_at TIMESTAMP   DEFAULT CURRENT_TIMESTAMP
			           ON UPDATE   CURRENT_TIMESTAMP,
			INDEX idx_updated_at (updated_at)
		) ENGINE=InnoDB
	`

	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ошибка создания таблицы player_positions: %w", err)
	}
	return nil
}

// Save сохраняет позицию игрока в базе данных.
// Использует INSERT ... ON DUPLICATE KEY UPDATE для обновления существующих записей.
func (r *MariaPositionRepo) Save(ctx context.Context, uid int32, pos vec.Vec3) error {
	if err := validate(uid, pos); err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx, upsertPosition, uid, pos.X, pos.Y, pos.Z); err != nil {
		return fmt.Errorf("ошибка сохранения позиции игрока %d: %w", uid, err)
	}
	return nil
}

// Load загружает позицию игрока из базы данных.
func (r *MariaPositionRepo) Load(ctx context.Context, uid int32) (vec.Vec3, bool, error) {
	if err := validateUID(uid); err != nil {
		return vec.Vec3{}, false, err
	}

	var pos vec.Vec3
	err := r.db.QueryRowContext(ctx, `SELECT x, y, z FROM player_positions WHERE uid = ?`, uid).
		Scan(&pos.X, &pos.Y, &pos.Z)
	if errors.Is(err, sql.ErrNoRows) {
		// Первый вход игрока
		return vec.Vec3{}, false, nil
	}
	if err != nil {
		return vec.Vec3{}, false, fmt.Errorf("ошибка загрузки позиции игрока %d: %w", uid, err)
	}
	return pos, true, nil
}

// Delete удаляет сохраненную позицию игрока.
func (r *MariaPositionRepo) Delete(ctx context.Context, uid int32) error {
	if err := validateUID(uid); err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM player_positions WHERE uid = ?`, uid)
	if err != nil {
		return fmt.Errorf("ошибка удаления позиции игрока %d: %w", uid, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения количества затронутых строк: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("позиция игрока %d не найдена", uid)
	}
	return nil
}

// BatchSave сохраняет позиции нескольких игроков в одной транзакции.
func (r *MariaPositionRepo) BatchSave(ctx context.Context, positions map[int32]vec.Vec3) error {
	if len(positions) == 0 {
		return nil
	}
	for uid, pos := range positions {
		if err := validate(uid, pos); err != nil {
			return err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertPosition)
	if err != nil {
		return fmt.Errorf("ошибка подготовки запроса: %w", err)
	}
	defer stmt.Close()

	for uid, pos := range positions {
		if _, err := stmt.ExecContext(ctx, uid, pos.X, pos.Y, pos.Z); err != nil {
			return fmt.Errorf("ошибка сохранения позиции игрока %d в batch: %w", uid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// Close закрывает соединение с базой данных.
func (r *MariaPositionRepo) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
